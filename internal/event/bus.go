// Package event provides a small fan-out bus used to deliver state changes
// from the BLE core to its consumers. Every subscription returns a cancel
// func so ownership of the channel is explicit.
package event

import "sync"

// DefaultBuffer is the channel capacity used when Subscribe is given n <= 0.
const DefaultBuffer = 16

// Bus delivers published values to every current subscriber.
// Sends never block: a subscriber whose buffer is full loses the oldest
// pending value so that the most recent one is always delivered.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	next   uint64
	closed bool
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]chan T)}
}

// Subscribe registers a new subscriber with a buffer of n values.
// The returned cancel func removes the subscriber and closes its channel;
// it is safe to call multiple times.
func (b *Bus[T]) Subscribe(n int) (<-chan T, func()) {
	return b.subscribe(n, nil)
}

// SubscribeWith registers a subscriber whose channel already holds first.
func (b *Bus[T]) SubscribeWith(n int, first T) (<-chan T, func()) {
	return b.subscribe(n, &first)
}

func (b *Bus[T]) subscribe(n int, first *T) (<-chan T, func()) {
	if n <= 0 {
		n = DefaultBuffer
	}
	ch := make(chan T, n)
	if first != nil {
		ch <- *first
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to all subscribers.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		offer(c, v)
	}
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already-closed channel.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.subs {
		delete(b.subs, id)
		close(c)
	}
}

// offer sends v without blocking (caller must hold mu).
func offer[T any](c chan T, v T) {
	select {
	case c <- v:
		return
	default:
	}
	// Buffer full: drop the oldest value, then retry once.
	select {
	case <-c:
	default:
	}
	select {
	case c <- v:
	default:
	}
}
