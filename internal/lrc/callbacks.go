package lrc

import (
	"context"
	"sync"

	"SimFed/internal/hla"
	"SimFed/internal/logger"
)

// callback is one queued ambassador call.
type callback struct {
	name string
	fn   func(Ambassador)
}

// queue holds callbacks until the application evokes them. ready carries at
// most one wakeup; a waiter always re-checks the slice.
type queue struct {
	mu    sync.Mutex
	items []callback
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(name string, fn func(Ambassador)) {
	q.mu.Lock()
	q.items = append(q.items, callback{name: name, fn: fn})
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (callback, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return callback{}, false
	}

	cb := q.items[0]
	q.items[0] = callback{}
	q.items = q.items[1:]

	return cb, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Pending returns the number of callbacks waiting for Evoke.
func (l *LRC) Pending() int {
	return l.callbacks.len()
}

// Evoke delivers one callback, waiting until one is queued, ctx is done or the
// LRC is closed.
func (l *LRC) Evoke(ctx context.Context) error {
	for {
		if cb, ok := l.callbacks.pop(); ok {
			l.invoke(cb)
			return nil
		}

		select {
		case <-l.callbacks.ready:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return hla.Errorf(hla.KindNotConnected, "lrc closed")
		}
	}
}

// EvokeMultiple waits for one callback like Evoke, then delivers every callback
// already queued. It returns the number delivered.
func (l *LRC) EvokeMultiple(ctx context.Context) (int, error) {
	if err := l.Evoke(ctx); err != nil {
		return 0, err
	}

	n := 1
	for {
		cb, ok := l.callbacks.pop()
		if !ok {
			return n, nil
		}

		l.invoke(cb)
		n++
	}
}

// invoke runs one callback. A panicking ambassador does not stop delivery.
func (l *LRC) invoke(cb callback) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("ambassador panicked", "federate", l.cfg.FederateName, "callback", cb.name, "panic", p)
		}
	}()

	cb.fn(l.ambassador)
}
