// Package notice is the user-visible alert channel produced by the BLE core
// and consumed by the UI: a title, a message and up to two actions.
package notice

import (
	"log/slog"
	"time"

	"github.com/chaz8081/sensorlink/internal/event"
)

// MaxActions is the largest number of actions a notice carries.
const MaxActions = 2

// Action is a single button on a notice. Target is a deep link opened by
// the consumer; Run is an in-process callback. Either may be empty.
type Action struct {
	Label  string
	Target string
	Run    func()
}

// Notice is a user-visible alert.
type Notice struct {
	Title   string
	Message string
	Actions []Action
	Time    time.Time
}

// New builds a notice, keeping at most MaxActions actions.
func New(title, message string, actions ...Action) Notice {
	if len(actions) > MaxActions {
		actions = actions[:MaxActions]
	}
	return Notice{
		Title:   title,
		Message: message,
		Actions: actions,
		Time:    time.Now(),
	}
}

// Center fans notices out to subscribers and keeps the most recent one.
type Center struct {
	bus *event.Bus[Notice]
}

// NewCenter creates an empty notice center.
func NewCenter() *Center {
	return &Center{bus: event.NewBus[Notice]()}
}

// Notify publishes n to every subscriber.
func (c *Center) Notify(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	slog.Info("[NOTICE] "+n.Title, "message", n.Message)
	c.bus.Publish(n)
}

// Subscribe returns a channel of notices and its cancel func.
func (c *Center) Subscribe() (<-chan Notice, func()) {
	return c.bus.Subscribe(8)
}

// Close closes every subscriber channel.
func (c *Center) Close() {
	c.bus.Close()
}
