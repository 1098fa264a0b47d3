package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// StateSource reports radio power state for platforms where the tinygo
// stack does not expose it (BlueZ on Linux).
type StateSource interface {
	State() AdapterState
	Watch(fn func(AdapterState)) (Subscription, error)
}

// TinygoAdapter wraps tinygo-org/bluetooth. Device IDs are the string form
// of bluetooth.Address: a MAC on Linux, a CoreBluetooth UUID on macOS.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter
	source  StateSource

	// mu protects everything below.
	mu        sync.Mutex
	enabled   bool
	enableErr error
	names     map[string]string
	links     map[string]*tinygoPeripheral
	listeners map[uint64]func(AdapterState)
	nextID    uint64
}

// NewTinygoAdapter creates an adapter over the default radio. source may be
// nil, in which case the state is derived from whether Enable succeeded.
func NewTinygoAdapter(source StateSource) *TinygoAdapter {
	return &TinygoAdapter{
		adapter:   bluetooth.DefaultAdapter,
		source:    source,
		names:     make(map[string]string),
		links:     make(map[string]*tinygoPeripheral),
		listeners: make(map[uint64]func(AdapterState)),
	}
}

// Enable powers up the stack and registers the link handler. An error is
// also reflected in State as Unsupported.
func (a *TinygoAdapter) Enable() error {
	err := a.adapter.Enable()

	a.mu.Lock()
	a.enabled = true
	a.enableErr = err
	a.mu.Unlock()

	if err != nil {
		a.publish(StateUnsupported)
		return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}

	// tinygo reports peer drops through the adapter-level handler only.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		p, ok := a.links[id]
		delete(a.links, id)
		a.mu.Unlock()
		if ok {
			p.dropped(nil)
		}
	})

	a.publish(StatePoweredOn)
	return nil
}

func (a *TinygoAdapter) State() AdapterState {
	if a.source != nil {
		return a.source.State()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case !a.enabled:
		return StateUnknown
	case a.enableErr != nil:
		return StateUnsupported
	default:
		return StatePoweredOn
	}
}

func (a *TinygoAdapter) OnStateChange(fn func(AdapterState)) Subscription {
	if a.source != nil {
		sub, err := a.source.Watch(fn)
		if err != nil {
			slog.Warn("[BLE] cannot watch adapter state", "error", err)
			return SubscriptionFunc(func() {})
		}
		return sub
	}

	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	a.mu.Unlock()

	return SubscriptionFunc(func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	})
}

func (a *TinygoAdapter) publish(s AdapterState) {
	if a.source != nil {
		return
	}
	a.mu.Lock()
	fns := make([]func(AdapterState), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (a *TinygoAdapter) Scan(ctx context.Context, filter ScanFilter, fn func(Device)) error {
	var (
		svc    bluetooth.UUID
		hasSvc bool
	)
	if filter.ServiceUUID != "" {
		u, err := bluetooth.ParseUUID(filter.ServiceUUID)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		svc, hasSvc = u, true
	}
	prefix := strings.ToLower(filter.NamePrefix)

	done := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if hasSvc && !result.HasServiceUUID(svc) {
			return
		}
		name := result.LocalName()
		if prefix != "" && !strings.HasPrefix(strings.ToLower(name), prefix) {
			return
		}
		id := result.Address.String()
		if name != "" {
			a.mu.Lock()
			a.names[id] = name
			a.mu.Unlock()
		}
		fn(Device{
			ID:           id,
			Name:         name,
			RSSI:         int(result.RSSI),
			DiscoveredAt: time.Now(),
		})
	})
	close(done)
	// No StopScan from this call may land after it returns.
	<-watcherDone

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinygoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *TinygoAdapter) Connect(ctx context.Context, id string) (Peripheral, error) {
	var addr bluetooth.Address
	addr.Set(id)

	// tinygo's Connect blocks with its own timeout and cannot be cancelled.
	// A link it still makes after ctx is done is disconnected here, so a
	// failed Connect never leaves the peripheral held.
	p, err := awaitLink(ctx, func() (*tinygoPeripheral, error) {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			return nil, err
		}
		return a.track(id, device), nil
	}, func(late *tinygoPeripheral) {
		slog.Info("[BLE] dropping link that completed after connect gave up", "id", id)
		a.release(late)
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", id, err)
	}

	a.mu.Lock()
	live := a.links[id] == p
	a.mu.Unlock()
	if !live {
		return nil, fmt.Errorf("ble: connect to %s: link dropped", id)
	}
	return p, nil
}

// release untracks p, if it is still the tracked link, and disconnects it.
func (a *TinygoAdapter) release(p *tinygoPeripheral) {
	a.mu.Lock()
	if a.links[p.id] == p {
		delete(a.links, p.id)
	}
	a.mu.Unlock()
	if err := p.device.Disconnect(); err != nil {
		slog.Debug("[BLE] disconnect late link", "id", p.id, "error", err)
	}
}

// track registers a fresh link as soon as the radio reports it, so a peer
// drop during setup is seen by the connect handler.
func (a *TinygoAdapter) track(id string, device bluetooth.Device) *tinygoPeripheral {
	p := &tinygoPeripheral{
		id:        id,
		device:    device,
		chars:     make(map[subKey]bluetooth.DeviceCharacteristic),
		listeners: make(map[uint64]func(error)),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p.name = a.names[id]
	a.links[id] = p
	return p
}

func (a *TinygoAdapter) CancelConnection(id string) error {
	a.mu.Lock()
	p, ok := a.links[id]
	delete(a.links, id)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: no link to %s", id)
	}
	return p.device.Disconnect()
}

func (a *TinygoAdapter) IsConnected(id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.links[id]
	return ok, nil
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoPeripheral struct {
	id     string
	name   string
	device bluetooth.Device

	mu        sync.Mutex
	chars     map[subKey]bluetooth.DeviceCharacteristic
	listeners map[uint64]func(error)
	nextID    uint64
}

func (p *tinygoPeripheral) ID() string   { return p.id }
func (p *tinygoPeripheral) Name() string { return p.name }

// RequestMTU returns mtu: tinygo negotiates the ATT MTU inside the host
// stack and has no exchange call.
func (p *tinygoPeripheral) RequestMTU(mtu int) (int, error) {
	return mtu, nil
}

func (p *tinygoPeripheral) DiscoverServices() error {
	svcs, err := p.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}

	chars := make(map[subKey]bluetooth.DeviceCharacteristic)
	for _, svc := range svcs {
		cs, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID(), err)
		}
		for _, c := range cs {
			chars[subKey{normalizeUUID(svc.UUID().String()), normalizeUUID(c.UUID().String())}] = c
		}
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()
	slog.Debug("[BLE] discovered services", "id", p.id, "services", len(svcs), "characteristics", len(chars))
	return nil
}

func (p *tinygoPeripheral) Monitor(serviceID, charID string, fn func(value string, err error)) (Subscription, error) {
	p.mu.Lock()
	c, ok := p.chars[subKey{normalizeUUID(serviceID), normalizeUUID(charID)}]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ble: characteristic %s not found in service %s", charID, serviceID)
	}

	if err := c.EnableNotifications(func(buf []byte) {
		fn(EncodePayload(buf), nil)
	}); err != nil {
		return nil, fmt.Errorf("ble: enable notifications: %w", err)
	}

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			if err := c.EnableNotifications(nil); err != nil {
				slog.Debug("[BLE] disable notifications", "char", charID, "error", err)
			}
		})
	}), nil
}

func (p *tinygoPeripheral) OnDisconnected(fn func(err error)) Subscription {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.mu.Unlock()

	return SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	})
}

func (p *tinygoPeripheral) dropped(err error) {
	p.mu.Lock()
	fns := make([]func(error), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func normalizeUUID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
