package loop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Loop runs posted functions one at a time, in posting order. A function
// posted from inside another runs after it returns, never nested.
type Loop struct {
	mu      sync.Mutex
	events  []func()
	wake    chan struct{}
	running atomic.Bool
}

func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn. It is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.events = append(l.events, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// ProcessEvents runs queued functions until none are left and returns how
// many ran. Called while the loop is already dispatching, it returns 0.
func (l *Loop) ProcessEvents() int {
	if !l.running.CompareAndSwap(false, true) {
		return 0
	}
	defer func() {
		l.running.Store(false)
		if l.Pending() > 0 {
			l.signal()
		}
	}()

	n := 0
	for {
		l.mu.Lock()
		batch := l.events
		l.events = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			l.dispatch(fn)
			n++
		}
	}
}

// Pending returns the number of queued functions.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Run processes events as they are posted until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("Event loop started")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Event loop stopped")
			return ctx.Err()
		case <-l.wake:
			l.ProcessEvents()
		}
	}
}

func (l *Loop) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "panic", r)
		}
	}()
	fn()
}
