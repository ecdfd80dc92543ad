// Package progress carries tagged status messages from a running pipeline
// stage to whoever is watching it (CLI printer, dashboard poller). One
// producer, one consumer, one buffered channel.
package progress

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Kind discriminates message variants.
type Kind string

const (
	KindProgress Kind = "progress"
	KindLog      Kind = "log"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Message is a single tagged record. Fields are populated per Kind:
// progress uses Operation/Current/Total/Text, log uses Level/Text,
// complete uses Success/Text, error uses Text.
type Message struct {
	Kind      Kind
	Operation string // download | extract | transcribe | analyze
	Current   int64
	Total     int64 // 0 means unknown (indeterminate progress)
	Level     string
	Success   bool
	Text      string
}

// Percent returns progress as 0-100, or -1 when the total is unknown.
func (m Message) Percent() float64 {
	if m.Kind != KindProgress || m.Total <= 0 {
		return -1
	}
	p := float64(m.Current) / float64(m.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// String renders the message for terminal display.
func (m Message) String() string {
	switch m.Kind {
	case KindProgress:
		if m.Total > 0 {
			return fmt.Sprintf("[%s] %s / %s (%.1f%%) %s",
				m.Operation,
				humanize.Bytes(uint64(m.Current)),
				humanize.Bytes(uint64(m.Total)),
				m.Percent(), m.Text)
		}
		return fmt.Sprintf("[%s] %s %s", m.Operation, humanize.Bytes(uint64(m.Current)), m.Text)
	case KindLog:
		return fmt.Sprintf("[%s] %s", m.Level, m.Text)
	case KindComplete:
		if m.Success {
			return "done: " + m.Text
		}
		return "failed: " + m.Text
	case KindError:
		return "error: " + m.Text
	}
	return m.Text
}

// Reporter is the producer side. A nil *Reporter is valid and discards
// everything, so stages can accept one unconditionally.
type Reporter struct {
	ch chan Message
}

// NewReporter creates a reporter with the given channel capacity.
func NewReporter(buf int) *Reporter {
	if buf <= 0 {
		buf = 64
	}
	return &Reporter{ch: make(chan Message, buf)}
}

// Messages exposes the consumer side of the queue.
func (r *Reporter) Messages() <-chan Message {
	if r == nil {
		return nil
	}
	return r.ch
}

// Update sends a progress tick. Ticks are droppable: when the queue is
// full the tick is discarded rather than blocking the stage.
func (r *Reporter) Update(operation string, current, total int64, text string) {
	if r == nil {
		return
	}
	select {
	case r.ch <- Message{Kind: KindProgress, Operation: operation, Current: current, Total: total, Text: text}:
	default:
	}
}

// Log sends a log line. Never dropped.
func (r *Reporter) Log(level, text string) {
	if r == nil {
		return
	}
	r.ch <- Message{Kind: KindLog, Level: level, Text: text}
}

// Complete signals that the operation finished. Never dropped.
func (r *Reporter) Complete(success bool, text string) {
	if r == nil {
		return
	}
	r.ch <- Message{Kind: KindComplete, Success: success, Text: text}
}

// Error reports a failure. Never dropped.
func (r *Reporter) Error(text string, err error) {
	if r == nil {
		return
	}
	if err != nil {
		text = fmt.Sprintf("%s: %v", text, err)
	}
	r.ch <- Message{Kind: KindError, Text: text}
}

// Close ends the stream; the consumer's range loop terminates.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	close(r.ch)
}
