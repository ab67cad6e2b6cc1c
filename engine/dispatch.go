package engine

import (
	"github.com/wippyai/isolate-runtime/errors"
)

// SlotState is the state of an isolate's op dispatch slot.
type SlotState uint8

const (
	// SlotIdle means no op dispatch is in progress.
	SlotIdle SlotState = iota
	// SlotPendingSync means send is inside an op handler.
	SlotPendingSync
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotPendingSync:
		return "pending_sync"
	default:
		return "invalid"
	}
}

// Call is the in-flight call context held by a pending slot.
type Call struct {
	response  []byte
	OpID      uint32
	responded bool
}

// Responded reports whether the op completed inline.
func (c *Call) Responded() bool { return c.responded }

// Response returns the inline response, if any.
func (c *Call) Response() []byte { return c.response }

// DispatchSlot coordinates one op dispatch at a time.
// Idle -> PendingSync -> Idle, with the return to Idle happening either
// through Complete (inline response) or Clear (async op, send epilogue).
type DispatchSlot struct {
	call  *Call
	state SlotState
}

// State returns the current slot state.
func (s *DispatchSlot) State() SlotState { return s.state }

// Pending returns the in-flight call, or nil when idle.
func (s *DispatchSlot) Pending() *Call { return s.call }

// Begin occupies the slot. Beginning from any state other than Idle is a
// protocol violation and panics.
func (s *DispatchSlot) Begin(c *Call) {
	if s.state != SlotIdle {
		panic(errors.ProtocolViolation("op %d dispatched while slot is %s (op %d in flight)", c.OpID, s.state, s.call.OpID))
	}
	s.call = c
	s.state = SlotPendingSync
}

// Complete stores an inline response and returns the slot to Idle.
// It reports false when no call is pending, in which case the response
// belongs to an asynchronous completion.
func (s *DispatchSlot) Complete(buf []byte) bool {
	if s.state != SlotPendingSync {
		return false
	}
	s.call.response = buf
	s.call.responded = true
	s.call = nil
	s.state = SlotIdle
	return true
}

// Clear releases the slot for c if c still holds it.
func (s *DispatchSlot) Clear(c *Call) {
	if s.state == SlotPendingSync && s.call == c {
		s.call = nil
		s.state = SlotIdle
	}
}
