package worker

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/runtime"
)

// Handle is the thread-safe proxy to a running worker. The worker owns the
// send side of the event channel; the host posts messages and requests
// termination through the handle.
type Handle struct {
	iso       atomic.Pointer[runtime.Isolate]
	events    chan Event
	inbound   chan []byte
	terminate chan struct{}
	exited    chan struct{}
	termOnce  sync.Once
	exitOnce  sync.Once
	failure   atomic.Pointer[errors.Error]
	name      string
	id        atomic.Uint32
}

func newHandle(name string, eventBuffer, inboundBuffer int) *Handle {
	return &Handle{
		events:    make(chan Event, eventBuffer),
		inbound:   make(chan []byte, inboundBuffer),
		terminate: make(chan struct{}),
		exited:    make(chan struct{}),
		name:      name,
	}
}

// Name returns the worker name.
func (h *Handle) Name() string { return h.name }

// ID returns the id the worker is registered under, or 0 before registration.
func (h *Handle) ID() uint32 { return h.id.Load() }

// Events returns the worker's event channel. It is closed after the last
// event.
func (h *Handle) Events() <-chan Event { return h.events }

// PostMessage forwards data to the worker. It blocks while the inbound
// channel is full and fails once the worker is terminated or its event
// loop has stopped. data must not be modified afterwards.
func (h *Handle) PostMessage(data []byte) error {
	if h.Terminated() || h.Exited() {
		return errors.ChannelClosed(h.ID())
	}
	select {
	case h.inbound <- data:
		return nil
	case <-h.terminate:
		return errors.ChannelClosed(h.ID())
	case <-h.exited:
		return errors.ChannelClosed(h.ID())
	}
}

// Terminate requests termination. It is idempotent and safe after the
// worker has already stopped.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		close(h.terminate)
		if iso := h.iso.Load(); iso != nil {
			iso.Terminate()
		}
	})
}

// Terminated reports whether termination was requested.
func (h *Handle) Terminated() bool {
	select {
	case <-h.terminate:
		return true
	default:
		return false
	}
}

// Exited reports whether the worker's event loop has stopped. Messages are
// no longer accepted after that.
func (h *Handle) Exited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// Err returns the terminal error that ended the worker, or nil while it
// runs and after a graceful exit or termination. It is set before the
// terminal error event is sent.
func (h *Handle) Err() error {
	if e := h.failure.Load(); e != nil {
		return e
	}
	return nil
}

// exit marks the worker as no longer receiving. Idempotent.
func (h *Handle) exit() {
	h.exitOnce.Do(func() { close(h.exited) })
}

// attach publishes the worker's isolate so Terminate can interrupt it.
func (h *Handle) attach(iso *runtime.Isolate) {
	h.iso.Store(iso)
	if h.Terminated() {
		iso.Terminate()
	}
}

// emit sends ev to the host. It gives up when termination is requested.
func (h *Handle) emit(ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.terminate:
		return false
	}
}

// thread is the join side of a worker goroutine.
type thread struct {
	err  error
	done chan struct{}
}

func newThread() *thread {
	return &thread{done: make(chan struct{})}
}

// join blocks until the worker goroutine has exited and returns the panic
// it died with, if any. Safe to call more than once.
func (t *thread) join() error {
	<-t.done
	return t.err
}
