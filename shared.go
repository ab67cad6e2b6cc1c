package isolateruntime

// SharedRegion is host-owned memory that an isolate may expose to guest code.
// The isolate wraps Bytes() once, on first access, without copying; later
// growth of the backing store is not observed by the guest.
// Synchronization between host writers and guest readers is the embedder's job.
type SharedRegion interface {
	Bytes() []byte
}

// Buffer is a SharedRegion over a plain byte slice.
type Buffer []byte

// Bytes returns the underlying slice.
func (b Buffer) Bytes() []byte { return b }

// NewBuffer allocates a zeroed region of size bytes.
func NewBuffer(size int) Buffer {
	return make(Buffer, size)
}
