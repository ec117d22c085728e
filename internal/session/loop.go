package session

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned for work submitted after the loop stopped.
var ErrClosed = errors.New("session closed")

// Loop runs posted functions one at a time on a single goroutine.
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop with a task queue of the given size.
func NewLoop(queue int) *Loop {
	return &Loop{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Run executes tasks until Stop. Queued tasks not yet started are dropped.
func (l *Loop) Run() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		select {
		case f := <-l.tasks:
			f()
		case <-l.done:
			return
		}
	}
}

// Post queues f. Reports false when the loop is stopped.
func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- f:
		return true
	case <-l.done:
		return false
	}
}

// Do runs f on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (l *Loop) Do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.exited:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Stop makes Run return after the current task. Safe to call more than once.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Wait blocks until Run returned.
func (l *Loop) Wait() {
	<-l.exited
}
