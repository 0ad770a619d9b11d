// Package metrics keeps the process counters. Every counter is exported to
// Prometheus under the can_console namespace and mirrored in a local atomic
// so the periodic log line can read it without scraping.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-can-console/internal/logging"
)

const namespace = "can_console"

type counter struct {
	prom  prometheus.Counter
	local atomic.Uint64
}

func newCounter(subsystem, name, help string) *counter {
	return &counter{prom: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})}
}

func (c *counter) add(n int) {
	c.prom.Add(float64(n))
	c.local.Add(uint64(n))
}

type gauge struct {
	prom  prometheus.Gauge
	local atomic.Uint64
}

func newGauge(subsystem, name, help string) *gauge {
	return &gauge{prom: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})}
}

func (g *gauge) set(n int) {
	g.prom.Set(float64(n))
	g.local.Store(uint64(n))
}

var (
	// bus links
	serialRx    = newCounter("serial", "rx_frames_total", "Frames decoded from the SLCAN adapter.")
	serialTx    = newCounter("serial", "tx_frames_total", "Frames written to the SLCAN adapter.")
	socketCANRx = newCounter("socketcan", "rx_frames_total", "Frames read from the SocketCAN interface.")
	socketCANTx = newCounter("socketcan", "tx_frames_total", "Frames written to the SocketCAN interface.")
	tcpRx       = newCounter("tcp", "rx_frames_total", "Frames received from cannelloni clients.")
	tcpTx       = newCounter("tcp", "tx_frames_total", "Frames sent to cannelloni clients.")
	malformed   = newCounter("", "malformed_frames_total", "Rejected malformed frames on any link.")

	// fan-out
	hubDrops   = newCounter("hub", "dropped_frames_total", "Frames dropped for slow clients.")
	hubKicks   = newCounter("hub", "kicked_clients_total", "Clients disconnected by the kick policy.")
	hubRejects = newCounter("hub", "rejected_clients_total", "Connections refused at the client limit.")
	hubClients = newGauge("hub", "active_clients", "Connected clients.")
	hubFanout  = newGauge("hub", "broadcast_fanout", "Clients targeted by the latest broadcast.")
	queueMax   = newGauge("hub", "queue_depth_max", "Largest client queue in the latest sample.")
	queueAvg   = newGauge("hub", "queue_depth_avg", "Average client queue in the latest sample.")

	// console transport
	consoleRx   = newCounter("console", "rx_bytes_total", "Console bytes received from the host.")
	consoleTx   = newCounter("console", "tx_bytes_total", "Console bytes sent to the host.")
	consoleDrop = newCounter("console", "dropped_bytes_total", "Console bytes lost to a full input ring.")
	consoleIntr = newCounter("console", "interrupts_total", "Interrupt characters seen on console input.")

	// controller
	fifoRx    = newCounter("controller", "fifo_rx_frames_total", "Frames moved from the RX FIFO to the receive queue.")
	fifoDrop  = newCounter("controller", "fifo_dropped_frames_total", "Frames lost to a full receive queue.")
	fifoOver  = newCounter("controller", "fifo_overflows_total", "RX FIFO overflow events.")
	poolTx    = newCounter("controller", "pool_tx_frames_total", "Frames armed in the transmit pool.")
	filterUpd = newCounter("controller", "filter_updates_total", "Filter banks rewritten on a running controller.")
	bringUps  = newCounter("controller", "bringups_total", "Completed controller bring-ups.")

	errorsSeen atomic.Uint64

	errorsByLabel = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "errors_total", Help: "Errors by subsystem.",
	}, []string{"where"})
	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "build_info", Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error labels. The set is closed to bound cardinality.
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrConsoleWrite   = "console_write"
	ErrCANSend        = "can_send"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
	ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	ErrConsoleWrite, ErrCANSend,
}

// Snapshot is a copy of the local counters.
type Snapshot struct {
	SerialRx      uint64
	SocketCANRx   uint64
	SerialTx      uint64
	SocketCANTx   uint64
	TCPRx         uint64
	TCPTx         uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // all labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64

	ConsoleRx     uint64
	ConsoleTx     uint64
	ConsoleDrops  uint64
	ConsoleIntr   uint64
	FIFORx        uint64
	FIFODrops     uint64
	FIFOOverflows uint64
	PoolTx        uint64
	FilterUpdates uint64
	BringUps      uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:      serialRx.local.Load(),
		SocketCANRx:   socketCANRx.local.Load(),
		SerialTx:      serialTx.local.Load(),
		SocketCANTx:   socketCANTx.local.Load(),
		TCPRx:         tcpRx.local.Load(),
		TCPTx:         tcpTx.local.Load(),
		HubDrops:      hubDrops.local.Load(),
		HubKicks:      hubKicks.local.Load(),
		HubRejects:    hubRejects.local.Load(),
		Errors:        errorsSeen.Load(),
		HubClients:    hubClients.local.Load(),
		Fanout:        hubFanout.local.Load(),
		Malformed:     malformed.local.Load(),
		QueueDepthMax: queueMax.local.Load(),
		QueueDepthAvg: queueAvg.local.Load(),
		ConsoleRx:     consoleRx.local.Load(),
		ConsoleTx:     consoleTx.local.Load(),
		ConsoleDrops:  consoleDrop.local.Load(),
		ConsoleIntr:   consoleIntr.local.Load(),
		FIFORx:        fifoRx.local.Load(),
		FIFODrops:     fifoDrop.local.Load(),
		FIFOOverflows: fifoOver.local.Load(),
		PoolTx:        poolTx.local.Load(),
		FilterUpdates: filterUpd.local.Load(),
		BringUps:      bringUps.local.Load(),
	}
}

func IncSerialRx()        { serialRx.add(1) }
func IncSerialTx()        { serialTx.add(1) }
func IncSocketCANRx()     { socketCANRx.add(1) }
func IncSocketCANTx()     { socketCANTx.add(1) }
func IncTCPRx()           { tcpRx.add(1) }
func AddTCPTx(n int)      { tcpTx.add(n) }
func IncMalformed()       { malformed.add(1) }
func IncHubDrop()         { hubDrops.add(1) }
func IncHubKick()         { hubKicks.add(1) }
func IncHubReject()       { hubRejects.add(1) }
func SetHubClients(n int) { hubClients.set(n) }

// SetBroadcastFanout records how many clients the latest broadcast reached.
func SetBroadcastFanout(n int) { hubFanout.set(n) }

// SetQueueDepth records a sample of client queue depths.
func SetQueueDepth(max, avg int) {
	queueMax.set(max)
	queueAvg.set(avg)
}

// AddConsoleRx counts console bytes taken from the console RX mailbox.
func AddConsoleRx(n int) { consoleRx.add(n) }

// AddConsoleTx counts console bytes armed in the console TX mailbox.
func AddConsoleTx(n int) { consoleTx.add(n) }

func IncConsoleDrop()     { consoleDrop.add(1) }
func IncInterruptSignal() { consoleIntr.add(1) }
func IncFIFORx()          { fifoRx.add(1) }
func IncFIFODrop()        { fifoDrop.add(1) }
func IncFIFOOverflow()    { fifoOver.add(1) }
func IncPoolTx()          { poolTx.add(1) }
func IncFilterUpdate()    { filterUpd.add(1) }
func IncBringUp()         { bringUps.add(1) }

// IncError counts one error under label.
func IncError(label string) {
	errorsByLabel.WithLabelValues(label).Inc()
	errorsSeen.Add(1)
}

// InitBuildInfo publishes the build gauge and creates every error series at
// zero. Call once at startup.
func InitBuildInfo(version, commit, date string) {
	buildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		errorsByLabel.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the check behind /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports the registered check; without one the process is ready.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	return fn == nil || fn()
}

// Handler serves /metrics and /ready.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !IsReady() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready\n"))
	})
	return mux
}

// StartHTTP serves Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
