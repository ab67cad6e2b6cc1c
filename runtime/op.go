package runtime

import (
	"context"
	"sync"
)

// Op is the outcome of an op handler: an inline response or a function
// that computes the response off the event loop.
type Op struct {
	async func(ctx context.Context) []byte
	buf   []byte
}

// Sync completes an op inline with buf.
func Sync(buf []byte) Op {
	return Op{buf: buf}
}

// Async completes an op later. fn runs on its own goroutine with the
// isolate's context; its result is delivered to the guest dispatcher on the
// next loop turn.
func Async(fn func(ctx context.Context) []byte) Op {
	return Op{async: fn}
}

// IsAsync reports whether the op completes off the loop.
func (o Op) IsAsync() bool { return o.async != nil }

// OpFunc handles one op dispatch. control is the request payload and
// zeroCopy aliases guest memory; neither may be retained past the call
// without copying.
type OpFunc func(s *OpState, control, zeroCopy []byte) Op

// OpState is the per-isolate state handed to op handlers.
// Values and close hooks are only touched from the isolate's goroutine.
type OpState struct {
	iso     *Isolate
	values  map[any]any
	closers []func()
	mu      sync.Mutex
}

func newOpState(iso *Isolate) *OpState {
	return &OpState{iso: iso, values: make(map[any]any)}
}

// Isolate returns the isolate the op runs in.
func (s *OpState) Isolate() *Isolate { return s.iso }

// Context returns the isolate's context. It is canceled when the isolate
// is closed or terminated.
func (s *OpState) Context() context.Context { return s.iso.ctx }

// Value returns the extension value stored under key.
func (s *OpState) Value(key any) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// SetValue stores an extension value under key.
func (s *OpState) SetValue(key, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// OnClose registers fn to run when the isolate closes. Hooks run in
// reverse registration order.
func (s *OpState) OnClose(fn func()) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

func (s *OpState) close() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
