// Package loop runs posted functions one at a time on a single goroutine.
// Every router, target and dispatcher callback of a Backend executes on its
// loop, so that state touched only from loop turns needs no further locking.
package loop

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("loop: closed")

// Loop is an unbounded FIFO executor. Post never blocks the caller.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New starts a loop goroutine.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn to run on a later turn. It returns false once the loop has
// been closed, in which case fn never runs.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		log.Trace().Msg("loop: post after close dropped")
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync waits until every function posted before the call has run. It must not
// be called from a loop turn.
func (l *Loop) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.Post(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is already queued and waits for the
// loop goroutine to exit. It is safe to call more than once but not from a
// loop turn.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.mu.Unlock()
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}
