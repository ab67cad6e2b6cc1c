package resource

import (
	"errors"
	"math"
	"sort"
	"sync"
)

var (
	ErrClosed    = errors.New("resource backend closed")
	ErrExhausted = errors.New("resource handle space exhausted")
)

// LocalBackend is an in-memory store with monotonic handles.
// A handle is never handed out twice, even after its entry is dropped,
// so a stale handle can only ever miss.
type LocalBackend struct {
	entries map[Handle]any
	next    Handle
	mu      sync.RWMutex
	closed  bool
}

// NewLocalBackend creates a new in-memory backend. The first handle is 1.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries: make(map[Handle]any),
		next:    1,
	}
}

// Create stores a value and returns its handle.
func (b *LocalBackend) Create(value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if b.next == math.MaxUint32 {
		return 0, ErrExhausted
	}

	h := b.next
	b.next++
	b.entries[h] = value
	return h, nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.entries[handle]
	return v, ok
}

// Drop removes an entry and returns (value, true) if it was present.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	v, ok := b.entries[handle]
	if !ok {
		return nil, false
	}
	delete(b.entries, handle)
	return v, true
}

// Len returns the number of live entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close drops every entry, calling Drop on values that implement Dropper,
// and returns the dropped handles and values in handle order. Later calls
// return nothing.
func (b *LocalBackend) Close() ([]Handle, []any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil
	}
	b.closed = true
	entries := b.entries
	b.entries = make(map[Handle]any)
	b.mu.Unlock()

	handles := make([]Handle, 0, len(entries))
	for h := range entries {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	values := make([]any, len(handles))
	for i, h := range handles {
		values[i] = entries[h]
		if d, ok := values[i].(Dropper); ok {
			d.Drop()
		}
	}
	return handles, values
}
