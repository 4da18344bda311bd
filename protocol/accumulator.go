package protocol

import "fmt"

// Accumulator is the framed-byte accumulator the query executor uses to
// concatenate successive reads until a complete reply sequence,
// terminated by a ReadyForQuery 'Z' frame, is present. It supports
// append, scan-for-tag, and splitting into individual frames.
type Accumulator struct {
	buf []byte
}

// Append adds raw bytes (typically one Message at a time, but any
// concatenation of well-formed tagged frames works) to the accumulator.
func (a *Accumulator) Append(b []byte) { a.buf = append(a.buf, b...) }

// Reset empties the accumulator for reuse.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }

// Bytes returns the raw accumulated buffer.
func (a *Accumulator) Bytes() []byte { return a.buf }

// HasMessage walks the buffer one tagged frame at a time, stepping by
// 1 (kind) + the frame's length field, and reports whether any frame
// carries the given tag. It never reads past the end of the buffer: a
// truncated trailing frame simply ends the scan.
func (a *Accumulator) HasMessage(tag byte) bool {
	_, ok := a.firstMessage(tag)
	return ok
}

func (a *Accumulator) firstMessage(tag byte) (Message, bool) {
	buf := a.buf
	for len(buf) >= 5 {
		length := int(NewReader(buf[1:5]).Uint32())
		total := 1 + length
		if total > len(buf) {
			break
		}
		if buf[0] == tag {
			return Message(buf[:total]), true
		}
		buf = buf[total:]
	}
	return nil, false
}

// Frames splits the accumulator's contents into individual Messages,
// stopping cleanly at the last complete frame rather than erroring on a
// trailing partial one.
func (a *Accumulator) Frames() []Message {
	var frames []Message
	buf := a.buf
	for len(buf) >= 5 {
		length := int(NewReader(buf[1:5]).Uint32())
		total := 1 + length
		if total > len(buf) {
			break
		}
		frames = append(frames, Message(buf[:total]))
		buf = buf[total:]
	}
	return frames
}

// FirstError returns the first 'E' frame in the accumulator, parsed into
// its field map, if one is present.
func (a *Accumulator) FirstError() (map[byte]string, bool, error) {
	m, ok := a.firstMessage('E')
	if !ok {
		return nil, false, nil
	}
	fields, err := m.ErrorFields()
	if err != nil {
		return nil, true, fmt.Errorf("malformed error response: %w", err)
	}
	return fields, true, nil
}
