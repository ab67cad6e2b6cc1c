package resource

import (
	"sync"
)

// Table is a typed handle table with observer support.
// It is safe for concurrent use; each method is one critical section.
type Table[T any] struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates an empty table backed by a LocalBackend.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value and returns its handle.
// Returns 0 if the table is closed.
func (t *Table[T]) Insert(value T) Handle {
	handle, err := t.backend.Create(value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	v, ok := t.backend.Get(handle)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Remove drops an entry and returns (value, true) if it was present.
// Exactly one of several concurrent Remove calls for a handle succeeds.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	v, ok := t.backend.Drop(handle)
	if !ok {
		var zero T
		return zero, false
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Value:  v,
	})

	return v.(T), true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	return t.backend.Len()
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer. The observer's dynamic type must be
// comparable, so an ObserverFunc cannot be unsubscribed.
func (t *Table[T]) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Close stops accepting inserts and drops the remaining entries. Values
// implementing Dropper are dropped, then observers see an EventDropped for
// each in handle order. The dropped values are returned; a second Close
// returns none.
func (t *Table[T]) Close() []T {
	handles, values := t.backend.Close()
	out := make([]T, len(values))
	for i, v := range values {
		t.notify(Event{
			Type:   EventDropped,
			Handle: handles[i],
			Value:  v,
		})
		out[i] = v.(T)
	}
	return out
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
