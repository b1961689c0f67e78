package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned to a debounced call replaced by a later call
// with the same key.
var ErrSuperseded = errors.New("superseded by a later call")

// Debouncer runs only the last of a burst of calls sharing a key.
type Debouncer struct {
	wait time.Duration

	mu      sync.Mutex
	pending map[string]*debounced
}

type debounced struct {
	timer *time.Timer
	done  chan error
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(wait time.Duration) *Debouncer {
	return &Debouncer{
		wait:    wait,
		pending: make(map[string]*debounced),
	}
}

// Do schedules fn for key after the quiet period and waits for it. If
// another Do for the same key arrives first, this call returns
// ErrSuperseded and fn is never run.
func (d *Debouncer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	call := &debounced{done: make(chan error, 1)}

	d.mu.Lock()
	if prev, ok := d.pending[key]; ok && prev.timer.Stop() {
		prev.done <- ErrSuperseded
	}
	d.pending[key] = call
	call.timer = time.AfterFunc(d.wait, func() {
		d.mu.Lock()
		if d.pending[key] == call {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		call.done <- fn(ctx)
	})
	d.mu.Unlock()

	select {
	case err := <-call.done:
		return err
	case <-ctx.Done():
		d.mu.Lock()
		if d.pending[key] == call && call.timer.Stop() {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		return ctx.Err()
	}
}
