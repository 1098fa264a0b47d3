package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/sensorlink/internal/event"
	"github.com/chaz8081/sensorlink/internal/notice"
)

// DefaultScanDuration bounds every discovery scan.
const DefaultScanDuration = 2 * time.Second

// ScanEventKind tells consumers what changed.
type ScanEventKind int

const (
	// ScanDevicesChanged means the discovered-device list changed.
	ScanDevicesChanged ScanEventKind = iota
	// ScanStateChanged means the scanning flag flipped.
	ScanStateChanged
)

// ScanEvent is published on every scanner change.
type ScanEvent struct {
	Kind     ScanEventKind
	Scanning bool
	Devices  int
}

// ScannerOptions configures discovery.
type ScannerOptions struct {
	Duration time.Duration // scan window (default 2s)
	Filter   ScanFilter
}

// Scanner runs bounded discovery scans and keeps the deduplicated list of
// discovered devices in first-seen order.
type Scanner struct {
	adapter  Adapter
	monitor  *StateMonitor
	gate     PermissionGate
	notifier Notifier
	opts     ScannerOptions

	mu       sync.Mutex
	starting bool
	scanning bool
	devices  []Device
	seen     map[string]struct{}
	gen      uint64
	cancel   context.CancelFunc
	idle     chan struct{} // closed once the last radio scan has fully stopped

	bus *event.Bus[ScanEvent]
}

// NewScanner creates a scanner. gate and notifier may be nil.
func NewScanner(adapter Adapter, monitor *StateMonitor, gate PermissionGate, notifier Notifier, opts ScannerOptions) *Scanner {
	if opts.Duration <= 0 {
		opts.Duration = DefaultScanDuration
	}
	if gate == nil {
		gate = AllowAll{}
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &Scanner{
		adapter:  adapter,
		monitor:  monitor,
		gate:     gate,
		notifier: notifier,
		opts:     opts,
		bus:      event.NewBus[ScanEvent](),
	}
}

// Start begins a discovery scan. It is a no-op while a scan is running or
// starting, or when the adapter is not powered on. It blocks only for the
// permission request; the scan itself runs in the background and stops
// after the configured duration.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.scanning || s.starting || s.monitor.Current() != StatePoweredOn {
		s.mu.Unlock()
		return
	}
	s.starting = true
	s.mu.Unlock()

	if !s.gate.RequestPermissions(ctx) {
		slog.Info("[SCAN] permissions denied, not scanning")
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return
	}

	// The previous radio scan must be fully stopped first, or its late
	// StopScan would end this one.
	s.mu.Lock()
	prev := s.idle
	s.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			s.mu.Lock()
			s.starting = false
			s.mu.Unlock()
			return
		}
	}

	scanCtx, cancel := context.WithTimeout(context.Background(), s.opts.Duration)
	idle := make(chan struct{})
	radioDone := make(chan struct{})

	s.mu.Lock()
	s.starting = false
	s.gen++
	gen := s.gen
	s.devices = nil
	s.seen = make(map[string]struct{})
	s.scanning = true
	s.cancel = cancel
	s.idle = idle
	s.mu.Unlock()

	s.bus.Publish(ScanEvent{Kind: ScanDevicesChanged, Scanning: true})
	s.bus.Publish(ScanEvent{Kind: ScanStateChanged, Scanning: true})
	slog.Info("[SCAN] started", "duration", s.opts.Duration)

	// The window closes on its own timer, whatever the radio is doing.
	go func() {
		defer close(idle)
		<-scanCtx.Done()
		s.finish(gen)
		if err := s.adapter.StopScan(); err != nil {
			slog.Debug("[SCAN] stop scan", "error", err)
		}
		<-radioDone
	}()

	go func() {
		defer close(radioDone)
		err := s.adapter.Scan(scanCtx, s.opts.Filter, func(d Device) {
			s.found(gen, d)
		})
		if err != nil && scanCtx.Err() == nil {
			slog.Error("[SCAN] radio error", "error", err)
			cancel()
			s.finish(gen)
			s.notifier.Notify(notice.New("Scan Error", fmt.Sprintf("Failed to scan: %v", err)))
		}
	}()
}

// Stop ends the in-flight scan, if any.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	gen := s.gen
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.finish(gen)
}

// Clear empties the discovered-device list.
func (s *Scanner) Clear() {
	s.mu.Lock()
	had := len(s.devices) > 0
	s.devices = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	if had {
		s.bus.Publish(ScanEvent{Kind: ScanDevicesChanged, Scanning: s.Scanning()})
	}
}

// Scanning reports whether a scan window is open.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Devices returns a copy of the discovered devices in first-seen order.
func (s *Scanner) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Subscribe returns scanner change events and a cancel func.
func (s *Scanner) Subscribe() (<-chan ScanEvent, func()) {
	return s.bus.Subscribe(16)
}

// found records d unless it was already seen in scan generation gen.
func (s *Scanner) found(gen uint64, d Device) {
	if d.ID == "" {
		return
	}
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = time.Now()
	}

	s.mu.Lock()
	if gen != s.gen || !s.scanning {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[d.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[d.ID] = struct{}{}
	s.devices = append(s.devices, d)
	n := len(s.devices)
	s.mu.Unlock()

	slog.Debug("[SCAN] found", "id", d.ID, "name", d.Name, "rssi", d.RSSI)
	s.bus.Publish(ScanEvent{Kind: ScanDevicesChanged, Scanning: true, Devices: n})
}

// finish closes scan generation gen. Later calls for the same or an older
// generation do nothing.
func (s *Scanner) finish(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.scanning {
		s.mu.Unlock()
		return
	}
	s.scanning = false
	cancel := s.cancel
	s.cancel = nil
	n := len(s.devices)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.Info("[SCAN] finished", "devices", n)
	s.bus.Publish(ScanEvent{Kind: ScanStateChanged, Scanning: false, Devices: n})
}

// Close stops any scan and closes subscriber channels.
func (s *Scanner) Close() {
	s.Stop()
	s.bus.Close()
}
