// Package loop provides the single-threaded task loop that owns all dialog
// state. Work from other goroutines enters through Post; timers fire by
// posting their callback; blocking collaborator calls run on their own
// goroutine and post their continuation back.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("loop: stopped")

// Loop runs posted tasks one at a time in posting order.
type Loop struct {
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

// New creates a loop. A nil clock selects the real clock.
func New(clock Clock, logger *zap.Logger) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		clock:  clock,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Clock returns the loop clock.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post queues f. It never blocks; tasks posted after the loop stopped are
// dropped.
func (l *Loop) Post(f func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.tasks = append(l.tasks, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.tasks = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.run(task)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()
	task()
}

// Call runs f on the loop and waits for it to finish. It must not be called
// from a loop task.
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts f once d has elapsed on the loop clock. Stopping the
// returned timer also discards a callback that fired but has not run yet.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	t := &loopTimer{}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.Load() {
				return
			}
			f()
		})
	})
	return t
}

type loopTimer struct {
	inner   Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	already := t.stopped.Swap(true)
	return t.inner.Stop() && !already
}

// Spawn runs work on a new goroutine and posts then with its result.
func Spawn[T any](l *Loop, work func() (T, error), then func(T, error)) {
	go func() {
		v, err := work()
		l.Post(func() { then(v, err) })
	}()
}
