// cmd/output.go
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/markb/sbrealtime/internal/realtime"
	"golang.org/x/term"
)

// printer writes events to stdout, one per line. Pretty output is meant for
// a terminal; JSON output for pipes.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	pretty bool
	now    func() time.Time
}

// newPrinter resolves mode (auto, json, pretty). auto picks pretty when w
// is a terminal.
func newPrinter(w io.Writer, mode string) (*printer, error) {
	p := &printer{w: w, now: time.Now}
	switch mode {
	case "", "auto":
		if f, ok := w.(*os.File); ok {
			p.pretty = term.IsTerminal(int(f.Fd()))
		}
	case "pretty":
		p.pretty = true
	case "json":
	default:
		return nil, fmt.Errorf("unknown output format %q", mode)
	}
	return p, nil
}

// record is the JSON line shape
type record struct {
	Time  time.Time     `json:"time"`
	Topic string        `json:"topic"`
	Kind  realtime.Kind `json:"kind"`
	Type  string        `json:"type"`
	Data  any           `json:"data,omitempty"`
}

// Event prints one channel event
func (p *printer) Event(topic string, ev realtime.Event) {
	rec := record{Time: p.now(), Topic: topic, Kind: ev.Kind, Type: ev.Type}
	switch {
	case ev.PostgresChange != nil:
		rec.Data = ev.PostgresChange
	case ev.Broadcast != nil:
		rec.Data = ev.Broadcast.Payload
	case ev.Presence != nil:
		rec.Data = ev.Presence
	case ev.ExecutionLog != nil:
		rec.Data = ev.ExecutionLog
	}
	p.write(rec)
}

// Status prints a subscription status change
func (p *printer) Status(topic string, status realtime.Status, err error) {
	rec := record{Time: p.now(), Topic: topic, Kind: "status", Type: string(status)}
	if err != nil {
		rec.Data = err.Error()
	}
	p.write(rec)
}

// Value prints an arbitrary result
func (p *printer) Value(kind, typ string, v any) {
	p.write(record{Time: p.now(), Kind: realtime.Kind(kind), Type: typ, Data: v})
}

func (p *printer) write(rec record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pretty {
		data, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(p.w, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(p.w, "%s\n", data)
		return
	}

	line := fmt.Sprintf("%s %-16s %-18s %s", rec.Time.Format("15:04:05.000"), rec.Kind, rec.Type, rec.Topic)
	if rec.Data != nil {
		data, err := json.MarshalIndent(rec.Data, "", "  ")
		if err == nil {
			line += "\n" + string(data)
		}
	}
	fmt.Fprintln(p.w, line)
}
