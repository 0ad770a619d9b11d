package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-can-console/internal/board"
	"github.com/kstaniek/go-can-console/internal/can"
	"github.com/kstaniek/go-can-console/internal/flexcan"
)

const (
	idlePoll = 2 * time.Millisecond
	banner   = "can-console %s on can%d (%s)\r\nType \"help\" for commands.\r\n"
	helpText = "help                  this text\r\n" +
		"stats                 controller counters\r\n" +
		"filters               FIFO filter table\r\n" +
		"filter BANK SPEC      set filter (id/mask[/ext])\r\n" +
		"clear BANK            disable filter\r\n" +
		"send ID#HEX           transmit a frame (send 1FF#AA extended when >3 digits)\r\n" +
		"recv                  print received frames\r\n" +
		"anything else is echoed\r\n"
)

// repl is the demo runtime behind the console: a line editor reading the
// console byte stream and a few commands driving the general frame API.
type repl struct {
	ctrl   *flexcan.Controller
	m      *machine
	prompt string
	log    *slog.Logger
	line   []byte
}

func newREPL(m *machine, prompt string, l *slog.Logger) *repl {
	return &repl{ctrl: m.console, m: m, prompt: prompt, log: l}
}

func (r *repl) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.ctrl, format, args...)
}

// run serves the console until ctx is done.
func (r *repl) run(ctx context.Context) {
	r.printf(banner, version, r.ctrl.Instance(), r.ctrl.Config().TxPin)
	r.printf("%s", r.prompt)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.m.intr:
			r.line = r.line[:0]
			r.printf("\r\nKeyboardInterrupt\r\n%s", r.prompt)
			continue
		default:
		}
		if !r.ctrl.Poll() {
			time.Sleep(idlePoll)
			continue
		}
		b, err := r.ctrl.ReadByte()
		if err != nil {
			r.log.Error("console_read_error", "error", err)
			return
		}
		r.feed(b)
	}
}

// feed handles one input byte: line editing and dispatch on return.
func (r *repl) feed(b byte) {
	switch b {
	case '\r', '\n':
		line := strings.TrimSpace(string(r.line))
		r.line = r.line[:0]
		r.printf("\r\n")
		if line != "" {
			r.exec(line)
		}
		r.printf("%s", r.prompt)
	case 0x08, 0x7F:
		if len(r.line) > 0 {
			r.line = r.line[:len(r.line)-1]
			r.printf("\b \b")
		}
	default:
		if b < 0x20 {
			return
		}
		r.line = append(r.line, b)
		_, _ = r.ctrl.Write([]byte{b})
	}
}

func (r *repl) exec(line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "help":
		r.printf("%s", helpText)
	case "stats":
		for _, c := range r.m.ctrls {
			st := c.Stats()
			r.printf("can%d %s irq=%d rx_queued=%d rx_dropped=%d fifo_overflows=%d console_queued=%d console_lost=%d\r\n",
				c.Instance(), c.State(), st.Interrupts, st.RxQueued, st.RxDropped, st.FIFOOverflows, st.ConsoleQueued, st.ConsoleLost)
		}
	case "filters":
		for bank, f := range r.ctrl.Filters() {
			if f == flexcan.MatchNothing {
				r.printf("%d: off\r\n", bank)
				continue
			}
			r.printf("%d: id=0x%X mask=0x%X ext=%t\r\n", bank, f.ID, f.Mask, f.Extended)
		}
	case "filter":
		bankStr, def, _ := strings.Cut(arg, " ")
		bank, err := strconv.Atoi(bankStr)
		if err != nil {
			r.printf("error: bad bank %q\r\n", bankStr)
			return
		}
		f, err := board.ParseFilter(def)
		if err == nil {
			err = r.ctrl.SetFilter(bank, f)
		}
		r.report(err)
	case "clear":
		bank, err := strconv.Atoi(arg)
		if err == nil {
			err = r.ctrl.ClearFilter(bank)
		}
		r.report(err)
	case "send":
		fr, err := can.ParseFrame(arg)
		if err == nil {
			err = r.ctrl.Send(fr)
		}
		r.report(err)
	case "recv":
		n := 0
		for {
			fr, ok := r.ctrl.TryRecv()
			if !ok {
				break
			}
			r.printf("%s\r\n", fr)
			n++
		}
		if n == 0 {
			r.printf("no frames\r\n")
		}
	default:
		r.printf("%s\r\n", line)
	}
}

func (r *repl) report(err error) {
	if err != nil {
		r.printf("error: %v\r\n", err)
		return
	}
	r.printf("ok\r\n")
}
