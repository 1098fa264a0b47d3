package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/sensorlink/internal/event"
	"github.com/chaz8081/sensorlink/internal/notice"
)

const (
	// DefaultConnectTimeout bounds the transport connect call.
	DefaultConnectTimeout = 3000 * time.Millisecond
	// DefaultMTU is requested after every successful connect.
	DefaultMTU = 512
)

// ConnState is the connection state machine.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnecting
	ConnFailed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	case ConnDisconnecting:
		return "Disconnecting"
	case ConnFailed:
		return "ConnectFailed"
	default:
		return "Idle"
	}
}

// EventKind identifies a Manager event.
type EventKind int

const (
	// EventStateChanged reports a state machine transition.
	EventStateChanged EventKind = iota
	// EventNavigateHome asks consumers to show the disconnected view.
	EventNavigateHome
)

// Event is published by the Manager.
type Event struct {
	Kind     EventKind
	State    ConnState
	DeviceID string
	Err      error
}

// ManagerOptions configures connection behavior.
type ManagerOptions struct {
	ConnectTimeout time.Duration // default 3000ms
	MTU            int           // requested MTU (default 512)
}

// DefaultManagerOptions returns the production defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ConnectTimeout: DefaultConnectTimeout,
		MTU:            DefaultMTU,
	}
}

// Connection is the single live link. It owns its subscriptions and its
// peer-disconnect listener.
type Connection struct {
	DeviceID string
	Name     string
	MTU      int
	Since    time.Time

	peripheral Peripheral

	mu            sync.Mutex
	subs          map[subKey]*SubscriptionHandle
	disconnectSub Subscription
	ended         bool
	dropped       bool
}

func newConnection(p Peripheral, id string, mtu int) *Connection {
	name := p.Name()
	if name == "" {
		name = id
	}
	return &Connection{
		DeviceID:   id,
		Name:       name,
		MTU:        mtu,
		Since:      time.Now(),
		peripheral: p,
		subs:       make(map[subKey]*SubscriptionHandle),
	}
}

// Subscriptions returns the number of active subscriptions.
func (c *Connection) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Uptime returns how long the link has been up.
func (c *Connection) Uptime() time.Duration {
	return time.Since(c.Since)
}

func (c *Connection) setDisconnectSub(sub Subscription) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		sub.Remove()
		return
	}
	c.disconnectSub = sub
	c.mu.Unlock()
}

func (c *Connection) markDropped() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

func (c *Connection) isDropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// teardown cancels every subscription and removes the disconnect listener.
// Safe to call more than once.
func (c *Connection) teardown() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	handles := make([]*SubscriptionHandle, 0, len(c.subs))
	for _, h := range c.subs {
		handles = append(handles, h)
	}
	ds := c.disconnectSub
	c.disconnectSub = nil
	c.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	if ds != nil {
		ds.Remove()
	}
}

// Manager owns the single connection state machine:
// Idle -> Connecting -> Connected -> Disconnecting -> Idle, with
// ConnectFailed returning to Idle.
type Manager struct {
	adapter  Adapter
	monitor  *StateMonitor
	scanner  *Scanner
	binding  *Binding
	notifier Notifier
	opts     ManagerOptions

	mu     sync.Mutex
	state  ConnState
	target string // device being connected to
	conn   *Connection
	gen    uint64 // bumped on every connect attempt and on Close
	closed bool

	bus *event.Bus[Event]
}

// NewManager wires the connection manager. binding and notifier may be nil.
func NewManager(adapter Adapter, monitor *StateMonitor, scanner *Scanner, binding *Binding, notifier Notifier, opts ManagerOptions) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MTU <= 0 {
		opts.MTU = DefaultMTU
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	if binding == nil {
		binding = NewBinding(nil)
	}
	return &Manager{
		adapter:  adapter,
		monitor:  monitor,
		scanner:  scanner,
		binding:  binding,
		notifier: notifier,
		opts:     opts,
		bus:      event.NewBus[Event](),
	}
}

// State returns the current state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the live connection or nil.
func (m *Manager) Current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Events returns manager events and a cancel func.
func (m *Manager) Events() (<-chan Event, func()) {
	return m.bus.Subscribe(16)
}

// Binding returns the persisted device binding.
func (m *Manager) Binding() *Binding {
	return m.binding
}

// setStateLocked transitions and publishes (caller must hold mu).
func (m *Manager) setStateLocked(s ConnState, id string, err error) {
	m.state = s
	m.bus.Publish(Event{Kind: EventStateChanged, State: s, DeviceID: id, Err: err})
}

// Connect links to the device with the given id. It is a no-op while a
// connect or disconnect is in flight. Failures are reported to the user,
// returned, and never retried.
func (m *Manager) Connect(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed || m.state == ConnConnecting || m.state == ConnDisconnecting {
		state := m.state
		m.mu.Unlock()
		slog.Debug("[BLE] connect ignored", "id", id, "state", state)
		return nil
	}
	prior := m.conn
	m.conn = nil
	m.gen++
	gen := m.gen
	m.target = id
	m.setStateLocked(ConnConnecting, id, nil)
	m.mu.Unlock()

	if prior != nil {
		slog.Info("[BLE] replacing connection", "previous", prior.DeviceID, "next", id)
		prior.teardown()
		if err := m.adapter.CancelConnection(prior.DeviceID); err != nil {
			slog.Warn("[BLE] cancel previous connection", "id", prior.DeviceID, "error", err)
		}
	}

	if id == "" {
		return m.fail(gen, id, fmt.Errorf("%w: empty device id", ErrConnectFailure))
	}

	slog.Info("[BLE] connecting", "id", id, "timeout", m.opts.ConnectTimeout)
	p, err := m.race(ctx, gen, id)
	if err != nil {
		return m.fail(gen, id, err)
	}

	// Watch for a peer drop before any setup round trip.
	conn := newConnection(p, id, 0)
	conn.setDisconnectSub(p.OnDisconnected(func(err error) {
		m.handlePeerDisconnect(conn, err)
	}))

	mtu, err := p.RequestMTU(m.opts.MTU)
	if err != nil {
		return m.abortSetup(gen, conn, fmt.Errorf("%w: request MTU: %w", ErrConnectFailure, err))
	}
	slog.Debug("[BLE] negotiated MTU", "requested", m.opts.MTU, "granted", mtu)
	conn.MTU = mtu

	if err := p.DiscoverServices(); err != nil {
		return m.abortSetup(gen, conn, fmt.Errorf("%w: %w", ErrServiceDiscovery, err))
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		conn.teardown()
		m.dropLink(id)
		return nil
	}
	if conn.isDropped() {
		m.mu.Unlock()
		conn.teardown()
		return m.fail(gen, id, fmt.Errorf("%w: device dropped during setup", ErrConnectFailure))
	}
	m.conn = conn
	m.target = ""
	m.setStateLocked(ConnConnected, id, nil)
	m.mu.Unlock()

	m.scanner.Clear()
	m.binding.Save(id)
	slog.Info("[BLE] connected", "id", id, "name", conn.Name, "mtu", mtu)
	return nil
}

// abortSetup ends attempt gen after the link came up but setup failed. A
// peer drop seen during setup is reported as such rather than as err.
func (m *Manager) abortSetup(gen uint64, conn *Connection, err error) error {
	conn.teardown()
	if conn.isDropped() {
		return m.fail(gen, conn.DeviceID, fmt.Errorf("%w: device dropped during setup: %w", ErrConnectFailure, err))
	}
	m.dropLink(conn.DeviceID)
	return m.fail(gen, conn.DeviceID, err)
}

type connectResult struct {
	p   Peripheral
	err error
}

// race runs the transport connect against the connect timeout. Whichever
// settles first wins; a late transport result is handed to discardLate and
// never touches state.
func (m *Manager) race(ctx context.Context, gen uint64, id string) (Peripheral, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	ch := make(chan connectResult, 1)
	go func() {
		p, err := m.adapter.Connect(ctx, id)
		ch <- connectResult{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %w", ErrConnectTimeout, r.err)
			}
			return nil, fmt.Errorf("%w: %w", ErrConnectFailure, r.err)
		}
		if r.p == nil {
			return nil, fmt.Errorf("%w: transport returned no peripheral", ErrConnectFailure)
		}
		return r.p, nil
	case <-ctx.Done():
		go m.discardLate(gen, id, ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectTimeout
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, ctx.Err())
	}
}

// discardLate waits for the losing transport result of attempt gen. A late
// link is cancelled unless a newer attempt has claimed the same device.
func (m *Manager) discardLate(gen uint64, id string, ch <-chan connectResult) {
	r := <-ch
	if r.err != nil || r.p == nil {
		slog.Debug("[BLE] late connect result discarded", "id", id, "error", r.err)
		return
	}

	m.mu.Lock()
	inUse := (m.conn != nil && m.conn.DeviceID == id) ||
		(m.state == ConnConnecting && m.target == id && m.gen != gen)
	m.mu.Unlock()
	if inUse {
		slog.Debug("[BLE] late link belongs to a newer attempt, keeping", "id", id)
		return
	}
	slog.Info("[BLE] discarding late connection", "id", id)
	m.dropLink(id)
}

func (m *Manager) dropLink(id string) {
	if err := m.adapter.CancelConnection(id); err != nil {
		slog.Debug("[BLE] cancel link", "id", id, "error", err)
	}
}

// fail ends connect attempt gen with err.
func (m *Manager) fail(gen uint64, id string, err error) error {
	m.mu.Lock()
	stale := gen != m.gen
	if !stale {
		m.target = ""
		m.setStateLocked(ConnFailed, id, err)
		m.setStateLocked(ConnIdle, id, nil)
	}
	m.mu.Unlock()

	m.scanner.Clear()
	if stale {
		slog.Debug("[BLE] stale connect failure", "id", id, "error", err)
		return err
	}
	slog.Error("[BLE] connect failed", "id", id, "error", err)
	m.notifier.Notify(notice.New("Connection Error", fmt.Sprintf("Failed to connect: %v", err)))
	return err
}

// handlePeerDisconnect runs when the device drops the link on its own.
func (m *Manager) handlePeerDisconnect(conn *Connection, err error) {
	m.mu.Lock()
	if m.conn != conn || m.state == ConnDisconnecting {
		m.mu.Unlock()
		conn.markDropped()
		return
	}
	m.conn = nil
	m.setStateLocked(ConnIdle, conn.DeviceID, err)
	m.mu.Unlock()

	if err != nil {
		slog.Warn("[BLE] disconnected with error", "id", conn.DeviceID, "error", err)
	} else {
		slog.Warn("[BLE] device disconnected", "id", conn.DeviceID)
	}

	conn.markDropped()
	conn.teardown()
	m.scanner.Stop()
	m.bus.Publish(Event{Kind: EventNavigateHome, State: ConnIdle, DeviceID: conn.DeviceID})
	m.notifier.Notify(notice.New(
		"Device Disconnected",
		fmt.Sprintf("The device %s has been disconnected.", conn.Name),
	))
}

// Disconnect tears down the live connection on user request. Local state
// is cleared only once the transport confirms the link is gone.
func (m *Manager) Disconnect() error {
	defer m.scanner.Clear()

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		m.notifier.Notify(notice.New("No device connected", ""))
		return ErrNotConnected
	}
	if m.state != ConnConnected {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(ConnDisconnecting, conn.DeviceID, nil)
	m.mu.Unlock()

	if err := m.adapter.CancelConnection(conn.DeviceID); err != nil && !conn.isDropped() {
		err = fmt.Errorf("%w: %w", ErrDisconnectFailure, err)
		m.mu.Lock()
		if m.conn == conn {
			m.setStateLocked(ConnConnected, conn.DeviceID, err)
		}
		m.mu.Unlock()
		slog.Error("[BLE] disconnect failed", "id", conn.DeviceID, "error", err)
		m.notifier.Notify(notice.New("Disconnection Error", fmt.Sprintf("Failed to disconnect: %v", err)))
		return err
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.setStateLocked(ConnIdle, conn.DeviceID, nil)
	}
	m.mu.Unlock()

	conn.teardown()
	m.binding.Clear()
	m.bus.Publish(Event{Kind: EventNavigateHome, State: ConnIdle, DeviceID: conn.DeviceID})
	slog.Info("[BLE] disconnected", "id", conn.DeviceID)
	return nil
}

// AutoReconnect reconnects to the bound device when the adapter is powered
// on. gate is released exactly once whatever the outcome.
func (m *Manager) AutoReconnect(ctx context.Context, gate StartupGate) {
	if gate != nil {
		defer gate.Release()
	}

	id, ok := m.binding.Load()
	if !ok {
		slog.Info("[BLE] no bound device, skipping auto-reconnect")
		return
	}
	if st := m.monitor.Current(); st != StatePoweredOn {
		slog.Info("[BLE] adapter not powered on, skipping auto-reconnect", "id", id, "state", st)
		return
	}

	slog.Info("[BLE] auto-reconnecting", "id", id)
	_ = m.Connect(ctx, id)
}

// reconcile drops conn locally when the transport reports it gone.
// It neither notifies nor touches the radio.
func (m *Manager) reconcile(conn *Connection) bool {
	m.mu.Lock()
	if m.conn != conn || m.state != ConnConnected {
		m.mu.Unlock()
		return false
	}
	m.conn = nil
	m.setStateLocked(ConnIdle, conn.DeviceID, nil)
	m.mu.Unlock()

	conn.markDropped()
	conn.teardown()
	m.binding.Clear()
	slog.Info("[BLE] connection found stale, cleared", "id", conn.DeviceID)
	return true
}

// Close tears down the live connection without clearing the binding, so
// the next start reconnects. In-flight connects become inert.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.gen++
	conn := m.conn
	m.conn = nil
	m.setStateLocked(ConnIdle, "", nil)
	m.mu.Unlock()

	var err error
	if conn != nil {
		conn.teardown()
		err = m.adapter.CancelConnection(conn.DeviceID)
	}
	m.bus.Close()
	return err
}
