package protocol

import "fmt"

// AlignmentSize is the allocation granularity scratch buffers are rounded
// up to. It has no effect on correctness under Go's allocator; it is kept
// so buffer sizes stay comparable to the original implementation's when
// tuning DefaultBufferSize.
const AlignmentSize = 512

// DefaultBufferSize is the default size of a read scratch buffer.
// transport.Conn uses it for the chunk it allocates on each read; that
// chunk is not reused across reads.
const DefaultBufferSize = 131072

// Buffer is a reusable, zero-initialized scratch area for accumulating a
// single message read off the wire. Reset() reclaims it for the next
// read without releasing the backing array, mirroring the arena-style
// reuse the byte codec component calls for. There is no explicit Free:
// Go's garbage collector reclaims the backing array once the last Buffer
// referencing it is dropped.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a zero-filled Buffer of at least size bytes,
// rounded up to AlignmentSize.
func NewBuffer(size int) *Buffer {
	rounded := ((size + AlignmentSize - 1) / AlignmentSize) * AlignmentSize
	if rounded == 0 {
		rounded = AlignmentSize
	}
	return &Buffer{data: make([]byte, rounded)}
}

// Grow ensures the buffer can hold at least n bytes, preserving existing
// content.
func (b *Buffer) Grow(n int) {
	if cap(b.data) >= n {
		b.data = b.data[:n]
		return
	}
	rounded := ((n + AlignmentSize - 1) / AlignmentSize) * AlignmentSize
	next := make([]byte, rounded)
	copy(next, b.data)
	b.data = next[:n]
}

// Bytes returns the current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Reset truncates the buffer to zero length while keeping its capacity,
// for reuse on the next read.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Copy returns a deep copy of the buffer's current contents, independent
// of this Buffer's future reuse.
func (b *Buffer) Copy() *Buffer {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return &Buffer{data: out}
}

// DebugDump renders the buffer's length and a hex dump of its contents
// (like Message.DebugString, but with no kind label), for tracing raw
// reads before they are interpreted as a Message.
func (b *Buffer) DebugDump() string {
	return fmt.Sprintf("len=%d data=% x", len(b.data), b.data)
}
