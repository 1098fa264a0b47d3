package telemetry

import (
	"log/slog"
	"time"

	"github.com/chaz8081/sensorlink/internal/event"
)

// Sample is a parsed reading with its arrival metadata.
type Sample struct {
	Reading
	Raw      string
	CharID   string
	Received time.Time
}

// Sink receives every sample, reference readings included.
type Sink interface {
	Send(s Sample) error
}

// Pipeline turns decoded notification text into samples: it records each
// one in the log, forwards it to the sinks and publishes it to subscribers.
type Pipeline struct {
	log   *Log
	sinks []Sink
	bus   *event.Bus[Sample]
}

// NewPipeline creates a pipeline. log may be nil.
func NewPipeline(log *Log, sinks ...Sink) *Pipeline {
	return &Pipeline{log: log, sinks: sinks, bus: event.NewBus[Sample]()}
}

// Handle processes one notification. Its signature matches ble.DataFunc.
// Text that is not a reading is logged and dropped.
func (p *Pipeline) Handle(text, charID string) {
	r, err := Parse(text)
	if err != nil {
		slog.Warn("[BLE] ignoring malformed reading", "char", charID, "error", err)
		return
	}
	s := Sample{Reading: r, Raw: text, CharID: charID, Received: time.Now()}
	slog.Debug("[BLE] reading", "t", r.T, "p", r.P, "b", r.B, "s", r.S, "e", r.E, "reference", r.IsReference())

	if p.log != nil {
		p.log.Record(r)
	}
	for _, sink := range p.sinks {
		if err := sink.Send(s); err != nil {
			slog.Warn("[RELAY] sink send failed", "error", err)
		}
	}
	p.bus.Publish(s)
}

// Subscribe returns samples as they arrive and a cancel func.
func (p *Pipeline) Subscribe() (<-chan Sample, func()) {
	return p.bus.Subscribe(32)
}

// Log returns the pipeline's history, if any.
func (p *Pipeline) Log() *Log {
	return p.log
}

// Close closes subscriber channels and saves any history still queued.
func (p *Pipeline) Close() {
	p.bus.Close()
	if p.log != nil {
		if err := p.log.Close(); err != nil {
			slog.Warn("[STORE] failed to save history", "error", err)
		}
	}
}
