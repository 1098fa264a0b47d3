package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/sensorlink/internal/ble"
	"github.com/chaz8081/sensorlink/internal/notice"
	"github.com/chaz8081/sensorlink/internal/telemetry"
)

// View represents the current screen.
type View int

const (
	ViewSplash View = iota
	ViewDevices
	ViewSession
)

// Deps are the services the TUI drives. Ready is closed once startup
// auto-reconnect has finished; a nil Ready skips the splash screen.
type Deps struct {
	Manager   *ble.Manager
	Scanner   *ble.Scanner
	Monitor   *ble.StateMonitor
	Lifecycle *ble.LifecycleWatcher
	Pipeline  *telemetry.Pipeline
	Notices   *notice.Center
	Ready     <-chan struct{}
	ExportDir string
}

// Model is the main TUI model.
type Model struct {
	deps Deps

	adapterCh <-chan ble.AdapterState
	scanCh    <-chan ble.ScanEvent
	connCh    <-chan ble.Event
	sampleCh  <-chan telemetry.Sample
	noticeCh  <-chan notice.Notice
	unsubs    []func()

	view   View
	width  int
	height int

	adapter  ble.AdapterState
	devices  []ble.Device
	cursor   int
	scanning bool

	conn     ble.ConnState
	deviceID string

	last    *telemetry.Sample
	entries int

	notice    *notice.Notice
	statusMsg string
	errorMsg  string

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// Message types

type adapterMsg ble.AdapterState

type scanMsg struct {
	scanning bool
	devices  []ble.Device
}

type connMsg ble.Event

type sampleMsg struct {
	sample  telemetry.Sample
	entries int
}

type noticeMsg notice.Notice

// readyMsg signals the startup gate has released.
type readyMsg struct{}

// closedMsg is returned when a source channel closes.
type closedMsg struct{}

type connectDoneMsg struct {
	id  string
	err error
}

type disconnectDoneMsg struct {
	err error
}

type exportMsg struct {
	path string
	err  error
}

type logClearedMsg struct {
	err error
}

type actionMsg struct {
	label string
	err   error
}

type lifecycleMsg struct {
	cleared bool
}

// NewModel creates a new TUI model and subscribes to every non-nil source.
func NewModel(deps Deps) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	m := Model{
		deps:    deps,
		view:    ViewDevices,
		keys:    DefaultKeyMap(),
		help:    h,
		spinner: s,
		styles:  DefaultStyles(),
	}
	if deps.Ready != nil {
		m.view = ViewSplash
	}

	if deps.Monitor != nil {
		ch, cancel := deps.Monitor.Subscribe()
		m.adapterCh = ch
		m.unsubs = append(m.unsubs, cancel)
		m.adapter = deps.Monitor.Current()
	}
	if deps.Scanner != nil {
		ch, cancel := deps.Scanner.Subscribe()
		m.scanCh = ch
		m.unsubs = append(m.unsubs, cancel)
		m.devices = deps.Scanner.Devices()
		m.scanning = deps.Scanner.Scanning()
	}
	if deps.Manager != nil {
		ch, cancel := deps.Manager.Events()
		m.connCh = ch
		m.unsubs = append(m.unsubs, cancel)
		m.conn = deps.Manager.State()
	}
	if deps.Pipeline != nil {
		ch, cancel := deps.Pipeline.Subscribe()
		m.sampleCh = ch
		m.unsubs = append(m.unsubs, cancel)
	}
	if log := m.log(); log != nil {
		m.entries = log.Len()
	}
	if deps.Notices != nil {
		ch, cancel := deps.Notices.Subscribe()
		m.noticeCh = ch
		m.unsubs = append(m.unsubs, cancel)
	}
	return m
}

// Close releases the model's subscriptions.
func (m Model) Close() {
	for _, cancel := range m.unsubs {
		cancel()
	}
}

// Init starts the listeners and the spinner.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.waitAdapter(),
		m.waitScan(),
		m.waitConn(),
		m.waitSample(),
		m.waitNotice(),
	}
	if m.deps.Ready != nil {
		ready := m.deps.Ready
		cmds = append(cmds, func() tea.Msg {
			<-ready
			return readyMsg{}
		})
	}
	return tea.Batch(cmds...)
}

// listen returns a command that waits for the next value on ch.
func listen[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return wrap(v)
	}
}

func (m Model) waitAdapter() tea.Cmd {
	return listen(m.adapterCh, func(s ble.AdapterState) tea.Msg { return adapterMsg(s) })
}

func (m Model) waitScan() tea.Cmd {
	scanner := m.deps.Scanner
	return listen(m.scanCh, func(ble.ScanEvent) tea.Msg {
		return scanMsg{scanning: scanner.Scanning(), devices: scanner.Devices()}
	})
}

func (m Model) waitConn() tea.Cmd {
	return listen(m.connCh, func(ev ble.Event) tea.Msg { return connMsg(ev) })
}

func (m Model) waitSample() tea.Cmd {
	log := m.log()
	return listen(m.sampleCh, func(s telemetry.Sample) tea.Msg {
		msg := sampleMsg{sample: s}
		if log != nil {
			msg.entries = log.Len()
		}
		return msg
	})
}

// log returns the reading history, or nil when there is none.
func (m Model) log() *telemetry.Log {
	if m.deps.Pipeline == nil {
		return nil
	}
	return m.deps.Pipeline.Log()
}

func (m Model) waitNotice() tea.Cmd {
	return listen(m.noticeCh, func(n notice.Notice) tea.Msg { return noticeMsg(n) })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.FocusMsg:
		return m, m.appStateCmd(ble.AppActive)

	case tea.BlurMsg:
		return m, m.appStateCmd(ble.AppInactive)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case readyMsg:
		m.view = m.homeView()
		return m, nil

	case adapterMsg:
		m.adapter = ble.AdapterState(msg)
		return m, m.waitAdapter()

	case scanMsg:
		m.scanning = msg.scanning
		m.devices = msg.devices
		if m.cursor >= len(m.devices) {
			m.cursor = max(len(m.devices)-1, 0)
		}
		return m, m.waitScan()

	case connMsg:
		return m.handleConnEvent(ble.Event(msg))

	case sampleMsg:
		s := msg.sample
		m.last = &s
		m.entries = msg.entries
		return m, m.waitSample()

	case noticeMsg:
		n := notice.Notice(msg)
		m.notice = &n
		return m, m.waitNotice()

	case connectDoneMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Connect failed: %v", msg.err)
			m.statusMsg = ""
		}
		return m, nil

	case disconnectDoneMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Disconnect failed: %v", msg.err)
		}
		return m, nil

	case exportMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Export failed: %v", msg.err)
			return m, nil
		}
		m.errorMsg = ""
		m.statusMsg = "Exported " + msg.path
		return m, nil

	case logClearedMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("Clear failed: %v", msg.err)
			return m, nil
		}
		m.entries = 0
		m.last = nil
		m.statusMsg = "Log cleared"
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.errorMsg = fmt.Sprintf("%s: %v", msg.label, msg.err)
		}
		return m, nil

	case lifecycleMsg:
		if msg.cleared {
			m.statusMsg = "Connection lost while away"
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleConnEvent(ev ble.Event) (tea.Model, tea.Cmd) {
	if ev.Kind == ble.EventNavigateHome {
		m.view = ViewDevices
		m.last = nil
		return m, m.waitConn()
	}

	m.conn = ev.State
	switch ev.State {
	case ble.ConnConnecting:
		m.deviceID = ev.DeviceID
		m.errorMsg = ""
		m.statusMsg = "Connecting to " + m.deviceName(ev.DeviceID) + "..."
	case ble.ConnConnected:
		m.deviceID = ev.DeviceID
		m.statusMsg = "Connected to " + m.deviceName(ev.DeviceID)
		if m.view != ViewSplash {
			m.view = ViewSession
		}
	case ble.ConnFailed:
		m.statusMsg = ""
		if ev.Err != nil {
			m.errorMsg = fmt.Sprintf("Connect failed: %v", ev.Err)
		}
	case ble.ConnIdle:
		m.deviceID = ""
		if m.view == ViewSession {
			m.view = ViewDevices
		}
		m.statusMsg = ""
	}
	return m, m.waitConn()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.notice != nil {
		switch {
		case key.Matches(msg, m.keys.Dismiss):
			m.notice = nil
			return m, nil
		case key.Matches(msg, m.keys.Action1):
			return m.runAction(0)
		case key.Matches(msg, m.keys.Action2):
			return m.runAction(1)
		}
	}

	if m.view == ViewSplash {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.view == ViewDevices && m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.view == ViewDevices && m.cursor < len(m.devices)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Scan):
		if m.view != ViewDevices || m.scanning || m.deps.Scanner == nil {
			return m, nil
		}
		m.errorMsg = ""
		scanner := m.deps.Scanner
		return m, func() tea.Msg {
			scanner.Start(context.Background())
			return nil
		}
	case key.Matches(msg, m.keys.Connect):
		if m.view != ViewDevices || m.conn == ble.ConnConnecting || m.cursor >= len(m.devices) || m.deps.Manager == nil {
			return m, nil
		}
		id := m.devices[m.cursor].ID
		mgr := m.deps.Manager
		m.errorMsg = ""
		m.statusMsg = "Connecting to " + m.deviceName(id) + "..."
		return m, func() tea.Msg {
			return connectDoneMsg{id: id, err: mgr.Connect(context.Background(), id)}
		}
	case key.Matches(msg, m.keys.Disconnect):
		if m.conn != ble.ConnConnected || m.deps.Manager == nil {
			return m, nil
		}
		mgr := m.deps.Manager
		m.statusMsg = "Disconnecting..."
		return m, func() tea.Msg {
			return disconnectDoneMsg{err: mgr.Disconnect()}
		}
	case key.Matches(msg, m.keys.Export):
		log, dir := m.log(), m.deps.ExportDir
		if log == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			path, err := log.ExportFile(dir, time.Now())
			return exportMsg{path: path, err: err}
		}
	case key.Matches(msg, m.keys.Clear):
		log := m.log()
		if log == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			return logClearedMsg{err: log.Clear()}
		}
	}
	return m, nil
}

// runAction dismisses the notice and performs its i-th action.
func (m Model) runAction(i int) (tea.Model, tea.Cmd) {
	if i >= len(m.notice.Actions) {
		return m, nil
	}
	a := m.notice.Actions[i]
	m.notice = nil
	return m, func() tea.Msg {
		return actionMsg{label: a.Label, err: notice.Open(a)}
	}
}

func (m Model) appStateCmd(s ble.AppState) tea.Cmd {
	if m.deps.Lifecycle == nil {
		return nil
	}
	w := m.deps.Lifecycle
	return func() tea.Msg {
		return lifecycleMsg{cleared: w.HandleAppState(s)}
	}
}

func (m Model) homeView() View {
	if m.conn == ble.ConnConnected {
		return ViewSession
	}
	return ViewDevices
}

func (m Model) deviceName(id string) string {
	for _, d := range m.devices {
		if d.ID == id && d.Name != "" {
			return d.Name
		}
	}
	return id
}

// View renders the current screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.TitleBar.Render(m.styles.Title.Render("sensorlink")))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	switch m.view {
	case ViewSplash:
		b.WriteString(m.spinner.View() + " Reconnecting to last device...")
	case ViewDevices:
		b.WriteString(m.renderDevices())
	case ViewSession:
		b.WriteString(m.renderSession())
	}

	if m.notice != nil {
		b.WriteString("\n")
		b.WriteString(m.renderNotice())
	}

	if m.errorMsg != "" {
		b.WriteString("\n" + m.styles.Error.Render(m.errorMsg))
	} else if m.statusMsg != "" {
		b.WriteString("\n" + m.styles.Muted.Render(m.statusMsg))
	}

	b.WriteString("\n" + m.styles.Help.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}

func (m Model) renderStatus() string {
	radio := m.styles.StatusOffline.Render("Bluetooth " + m.adapter.String())
	if m.adapter == ble.StatePoweredOn {
		radio = m.styles.StatusOnline.Render("Bluetooth on")
	}

	link := m.styles.StatusOffline.Render(m.conn.String())
	switch m.conn {
	case ble.ConnConnected:
		link = m.styles.StatusOnline.Render("Connected: " + m.deviceName(m.deviceID))
	case ble.ConnConnecting:
		link = m.styles.Warning.Render(m.spinner.View() + " Connecting")
	}
	return m.styles.StatusBar.Render(radio + "  " + link)
}

func (m Model) renderDevices() string {
	var b strings.Builder
	if m.scanning {
		b.WriteString(m.spinner.View() + " Scanning...\n\n")
	}
	if len(m.devices) == 0 {
		if !m.scanning {
			b.WriteString(m.styles.Muted.Render("No devices. Press s to scan."))
		}
		return b.String()
	}
	for i, d := range m.devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		line := fmt.Sprintf("%s  %s  %d dBm", name, d.ID, d.RSSI)
		if i == m.cursor {
			b.WriteString(m.styles.ItemSelected.Render("> " + line))
		} else {
			b.WriteString(m.styles.Item.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderSession() string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(m.styles.Label.Render(label) + m.styles.Value.Render(value) + "\n")
	}

	row("Device", m.deviceName(m.deviceID))
	row("Log entries", fmt.Sprintf("%d", m.entries))
	b.WriteString("\n")

	if m.last == nil {
		b.WriteString(m.styles.Muted.Render("Waiting for readings..."))
		return b.String()
	}
	r := m.last.Reading
	if r.IsReference() {
		row("Reference", fmt.Sprintf("t=%g", r.T))
		return b.String()
	}
	timing := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(r.TimingColor().Hex()))
	b.WriteString(m.styles.Label.Render("Timing") + timing.Render(r.TimingFeedback()) + "\n")
	row("Position", r.PositionFeedback())
	row("Score", fmt.Sprintf("%.0f", r.Score()))
	return b.String()
}

func (m Model) renderNotice() string {
	n := m.notice
	var b strings.Builder
	b.WriteString(m.styles.Highlight.Render(n.Title) + "\n")
	b.WriteString(n.Message)
	for i, a := range n.Actions {
		b.WriteString(fmt.Sprintf("\n[%d] %s", i+1, a.Label))
	}
	b.WriteString("\n" + m.styles.Muted.Render("[esc] dismiss"))
	return m.styles.Notice.Render(b.String())
}
