package ble

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/chaz8081/sensorlink/internal/event"
	"github.com/chaz8081/sensorlink/internal/notice"
)

// Notifier receives user-visible notices raised by the core.
type Notifier interface {
	Notify(n notice.Notice)
}

type discardNotifier struct{}

func (discardNotifier) Notify(notice.Notice) {}

// StateMonitor tracks the adapter power state and reports transitions.
// It only reports: reacting to PoweredOff is up to the Scanner and Manager.
type StateMonitor struct {
	adapter  Adapter
	notifier Notifier
	goos     string

	mu      sync.Mutex
	state   AdapterState
	started bool
	sub     Subscription

	bus *event.Bus[AdapterState]
}

// NewStateMonitor creates a monitor for adapter. Call Start to begin.
func NewStateMonitor(adapter Adapter, notifier Notifier) *StateMonitor {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	return &StateMonitor{
		adapter:  adapter,
		notifier: notifier,
		goos:     runtime.GOOS,
		bus:      event.NewBus[AdapterState](),
	}
}

// Start registers with the adapter and publishes the current state as an
// initial event. Calling Start again is a no-op.
func (m *StateMonitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	sub := m.adapter.OnStateChange(m.update)

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	m.update(m.adapter.State())
}

// Stop removes the adapter listener and closes subscriber channels.
func (m *StateMonitor) Stop() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
	m.bus.Close()
}

// Current returns the last observed state.
func (m *StateMonitor) Current() AdapterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel that first yields the current state and then
// every reported state, plus its cancel func.
func (m *StateMonitor) Subscribe() (<-chan AdapterState, func()) {
	return m.bus.SubscribeWith(8, m.Current())
}

func (m *StateMonitor) update(s AdapterState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	slog.Debug("[BLE] adapter state", "state", s, "previous", prev)
	m.bus.Publish(s)

	if s == StatePoweredOff && prev != StatePoweredOff {
		m.notifier.Notify(notice.New(
			"Bluetooth is off",
			"Please turn on Bluetooth",
			notice.BluetoothSettings(m.goos),
		))
	}
}
