package engine

import (
	"github.com/wippyai/isolate-runtime/errors"
	"github.com/wippyai/isolate-runtime/resource"
)

// IsolateID identifies a live isolate in the process-wide registry.
// Native callbacks carry only this id and look the state up on every entry.
type IsolateID = resource.Handle

var isolates = resource.NewTable[*State]()

func registerState(st *State) IsolateID {
	return isolates.Insert(st)
}

func unregisterState(id IsolateID) {
	isolates.Remove(id)
}

// Lookup returns the state registered under id.
func Lookup(id IsolateID) (*State, bool) {
	return isolates.Get(id)
}

// LiveIsolates returns the number of registered isolates.
func LiveIsolates() int {
	return isolates.Len()
}

// mustLookup is the checked lookup used by every bridge entry point.
// A miss means a callback fired for a disposed isolate.
func mustLookup(id IsolateID) *State {
	st, ok := isolates.Get(id)
	if !ok {
		panic(errors.ProtocolViolation("callback for unregistered isolate %d", id))
	}
	return st
}
