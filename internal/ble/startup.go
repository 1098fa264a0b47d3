package ble

import "sync"

// StartupGate is released once the startup reconnect attempt resolves.
type StartupGate interface {
	Release()
}

// OnceGate runs its func on the first Release only.
type OnceGate struct {
	once sync.Once
	fn   func()
	done chan struct{}
}

// NewOnceGate creates a gate that runs fn (may be nil) on first release.
func NewOnceGate(fn func()) *OnceGate {
	return &OnceGate{fn: fn, done: make(chan struct{})}
}

// Release runs the gate func once; later calls do nothing.
func (g *OnceGate) Release() {
	g.once.Do(func() {
		if g.fn != nil {
			g.fn()
		}
		close(g.done)
	})
}

// Done is closed after the first Release.
func (g *OnceGate) Done() <-chan struct{} {
	return g.done
}
