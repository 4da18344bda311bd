// Package protocol implements the wire-level primitives of the PostgreSQL
// v3 frontend/backend protocol: big-endian integer and string codecs,
// message framing, and the constructors/parsers for every message the
// engine sends or receives.
package protocol

import (
	"encoding/binary"
	"unsafe"
)

// HostIsLittleEndian reports the host's native byte order. The wire is
// always big-endian regardless of what this returns; it exists for test
// harnesses and for host-order timestamp adjustments per the byte codec
// component's contract.
func HostIsLittleEndian() bool {
	var i uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&i))
	return b[0] == 1
}

// SwapUint32 reverses the byte order of v.
func SwapUint32(v uint32) uint32 {
	return (v&0x000000ff)<<24 |
		(v&0x0000ff00)<<8 |
		(v&0x00ff0000)>>8 |
		(v&0xff000000)>>24
}

// Reader is a forward-only cursor over a big-endian encoded buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential big-endian decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.pos }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(pos int) { r.pos = pos }

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) { r.pos += n }

func (r *Reader) Uint8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

func (r *Reader) Uint16() uint16 {
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint32() uint32 {
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Uint64() uint64 {
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Remaining returns every byte not yet consumed.
func (r *Reader) Remaining() []byte {
	return r.buf[r.pos:]
}

// CString reads bytes up to and including the next NUL terminator and
// returns the string without the terminator. The cursor is left just past
// the NUL. It does not copy the backing array.
func (r *Reader) CString() string {
	start := r.pos
	for r.buf[r.pos] != 0 {
		r.pos++
	}
	s := string(r.buf[start:r.pos])
	r.pos++ // skip the NUL
	return s
}

// Writer accumulates a big-endian encoded message body.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }

func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// CString appends s followed by a single NUL terminator.
func (w *Writer) CString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// Raw appends b verbatim, with no terminator.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// PatchUint32 overwrites the 4 bytes at offset with v, big-endian. Used to
// backfill a frame's length field once the body size is known.
func (w *Writer) PatchUint32(offset int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[offset:offset+4], v)
}
