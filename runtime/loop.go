package runtime

import (
	"context"
	"sync"
	"sync/atomic"
)

// EventLoop is a cooperative single-goroutine task loop. Tasks run one at a
// time on the goroutine that called Run; other goroutines hand work in with
// Submit.
type EventLoop struct {
	queue   []func() error
	wake    chan struct{}
	mu      sync.Mutex
	pending int
	stopped atomic.Bool
	closed  bool
}

// NewEventLoop returns an idle loop.
func NewEventLoop() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

// Submit queues task for the loop and reports whether it was accepted.
// It is safe for concurrent use. Tasks run in submission order.
func (l *EventLoop) Submit(task func() error) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	l.signal()
	return true
}

// Hold registers outstanding work that keeps Run from returning. It must be
// called on the loop goroutine. The returned release queues task (which may
// be nil) and drops the hold when that task runs; it may be called from any
// goroutine, and only its first call has an effect.
func (l *EventLoop) Hold() func(task func() error) {
	l.pending++
	var once sync.Once
	return func(task func() error) {
		once.Do(func() {
			l.Submit(func() error {
				l.pending--
				if task == nil {
					return nil
				}
				return task()
			})
		})
	}
}

// Pending returns the number of outstanding holds. Loop goroutine only.
func (l *EventLoop) Pending() int { return l.pending }

// Run drives the loop until it is idle, stopped, or a task fails.
// After every task checkpoint runs; a checkpoint error ends the loop.
// The loop is idle when no task is queued, no hold is outstanding and
// keepAlive (if set) reports false.
func (l *EventLoop) Run(ctx context.Context, keepAlive func() bool, checkpoint func() error) error {
	for {
		for !l.stopped.Load() {
			task, ok := l.next()
			if !ok {
				break
			}
			if err := task(); err != nil {
				return err
			}
			if checkpoint != nil {
				if err := checkpoint(); err != nil {
					return err
				}
			}
		}

		if l.stopped.Load() {
			return nil
		}
		if l.pending == 0 && l.queued() == 0 && (keepAlive == nil || !keepAlive()) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop makes Run return after the current task. Safe from any goroutine.
func (l *EventLoop) Stop() {
	l.stopped.Store(true)
	l.signal()
}

// Stopped reports whether Stop was called.
func (l *EventLoop) Stopped() bool { return l.stopped.Load() }

// Close rejects further submissions and drops queued tasks.
func (l *EventLoop) Close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

func (l *EventLoop) next() (func() error, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *EventLoop) queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *EventLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
