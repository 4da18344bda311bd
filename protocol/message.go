package protocol

import "fmt"

// Message is a single frame of the wire protocol: a tagged message in the
// usual case (kind byte, then a big-endian length covering itself and
// everything after it, then the body), or an untagged startup-phase frame
// (SSLRequest, StartupMessage, CancelRequest) that has no kind byte at
// all. Because every length this engine ever builds fits in three bytes,
// the first byte of an untagged frame's length field is always zero, so
// Kind() can use that same byte as a 0-valued sentinel without a second
// field.
type Message []byte

// Kind returns the message's type tag, or 0 for an untagged frame.
func (m Message) Kind() byte {
	if len(m) == 0 {
		return 0
	}
	return m[0]
}

// IsError reports whether this is a backend ErrorResponse.
func (m Message) IsError() bool { return m.Kind() == 'E' }

// IsNotice reports whether this is a backend NoticeResponse.
func (m Message) IsNotice() bool { return m.Kind() == 'N' }

// DebugString renders kind, byte length, and a hex dump of the payload,
// for debug5-level tracing of outbound requests and inbound replies.
func (m Message) DebugString() string {
	kind := m.Kind()
	label := string(kind)
	if kind == 0 {
		label = "<untagged>"
	}
	return fmt.Sprintf("kind=%s len=%d data=% x", label, len(m), []byte(m))
}

// MessageWriter is implemented by anything a Message can be sent over.
type MessageWriter interface {
	Write(m Message) error
}

// MessageReadWriter is implemented by anything frames are exchanged over
// in both directions.
type MessageReadWriter interface {
	MessageWriter
	Read() (Message, error)
}

// newMessage builds a tagged message: kind byte, then a 4-byte length
// (itself plus body) immediately patched in, then the body.
func newMessage(kind byte, body []byte) Message {
	w := NewWriter()
	w.Uint8(kind)
	w.Uint32(0) // placeholder, patched below
	w.Raw(body)
	w.PatchUint32(1, uint32(len(body)+4))
	return Message(w.Bytes())
}

// newUntaggedMessage builds an untagged startup-phase message: a 4-byte
// length (covering itself and the body) followed by the body.
func newUntaggedMessage(body []byte) Message {
	w := NewWriter()
	w.Uint32(uint32(len(body) + 4))
	w.Raw(body)
	return Message(w.Bytes())
}
