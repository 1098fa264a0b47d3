package ble

import "context"

// awaitLink runs dial, which may not be interruptible, until ctx is done.
// When ctx ends first the caller gets ctx.Err() and a link that dial still
// establishes afterwards is passed to release, so a Connect that returned
// an error never leaves a live link behind.
func awaitLink[T any](ctx context.Context, dial func() (T, error), release func(T)) (T, error) {
	type result struct {
		link T
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		link, err := dial()
		ch <- result{link, err}
	}()

	select {
	case r := <-ch:
		return r.link, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				release(r.link)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}
