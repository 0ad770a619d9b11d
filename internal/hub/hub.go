// Package hub fans frames seen on the CAN bus out to connected TCP clients.
package hub

import (
	"strings"
	"sync"

	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/logging"
	"github.com/kstaniek/go-can-console/internal/metrics"
)

// BackpressurePolicy decides what happens to a client whose queue is full.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota // the frame is lost for that client
	PolicyKick                           // the client is disconnected
)

// ParsePolicy maps "drop" / "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

const DefaultOutBuf = 512

type Client struct {
	Out       chan can.Frame
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client with an outbound queue of buf frames.
func NewClient(buf int) *Client {
	if buf <= 0 {
		buf = DefaultOutBuf
	}
	return &Client{Out: make(chan can.Frame, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed. It is idempotent.
func (c *Client) Close() { c.closeOnce.Do(func() { close(c.Closed) }) }

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a client sized by OutBufSize and registers it.
func (h *Hub) NewClient() *Client {
	c := NewClient(h.OutBufSize)
	h.Add(c)
	return c
}

func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	if n == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters and closes c. Safe to call more than once.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(n)
	if existed && n == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast queues fr for every client and returns how many accepted it.
// It never blocks; full queues are handled by Policy.
func (h *Hub) Broadcast(fr can.Frame) int {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	sampleDepth(clients)
	delivered := 0
	for _, c := range clients {
		select {
		case c.Out <- fr:
			delivered++
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close()
			} else {
				metrics.IncHubDrop()
			}
		}
	}
	return delivered
}

// SendFrame makes the hub a frame sink for bus taps.
func (h *Hub) SendFrame(fr can.Frame) error {
	h.Broadcast(fr)
	return nil
}

func sampleDepth(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	max, sum := 0, 0
	for _, c := range clients {
		l := len(c.Out)
		if l > max {
			max = l
		}
		sum += l
	}
	metrics.SetQueueDepth(max, sum/len(clients))
}

// Snapshot returns a copy of the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
