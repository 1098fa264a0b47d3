package relay

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"github.com/chaz8081/sensorlink/internal/telemetry"
)

// DefaultOSCPrefix is the address prefix used when none is configured.
const DefaultOSCPrefix = "/sensorlink"

// OSCSink sends every sample as a bundle of OSC messages.
type OSCSink struct {
	client *osc.Client
	prefix string
}

// NewOSCSink creates a sink sending to addr ("host:port").
func NewOSCSink(addr, prefix string) (*OSCSink, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("relay: osc address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("relay: osc port %q: %w", portStr, err)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return &OSCSink{client: osc.NewClient(host, port), prefix: normalizePrefix(prefix)}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return DefaultOSCPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// Messages builds the OSC messages for s. Reference readings only carry
// the clock and the reference flag.
func Messages(prefix string, s telemetry.Sample) []*osc.Message {
	prefix = normalizePrefix(prefix)
	msg := func(name string, arg interface{}) *osc.Message {
		return osc.NewMessage(prefix+"/"+name, arg)
	}

	ref := s.IsReference()
	out := []*osc.Message{
		msg("t", float32(s.T)),
		msg("reference", ref),
	}
	if ref {
		return out
	}
	return append(out,
		msg("p", float32(s.P)),
		msg("b", float32(s.B)),
		msg("s", float32(s.S)),
		msg("e", float32(s.E)),
		msg("score", float32(s.Score())),
		msg("fraction", float32(s.ErrorFraction())),
		msg("timing_ms", float32(s.TimingMs())),
	)
}

// Send implements telemetry.Sink.
func (o *OSCSink) Send(s telemetry.Sample) error {
	for _, m := range Messages(o.prefix, s) {
		if err := o.client.Send(m); err != nil {
			return fmt.Errorf("relay: osc send %s: %w", m.Address, err)
		}
	}
	return nil
}

var _ telemetry.Sink = (*OSCSink)(nil)
