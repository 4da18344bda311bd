package protocol

import "fmt"

// IdentifySystemMessage builds the IDENTIFY_SYSTEM replication command,
// sent as an ordinary simple-query Query frame.
func IdentifySystemMessage() Message {
	m, _ := QueryMessage("IDENTIFY_SYSTEM;")
	return m
}

// TimelineHistoryMessage builds the TIMELINE_HISTORY replication command
// for the given timeline ID.
func TimelineHistoryMessage(timeline int32) Message {
	m, _ := QueryMessage(fmt.Sprintf("TIMELINE_HISTORY %d;", timeline))
	return m
}

// ReadReplicationSlotMessage builds the READ_REPLICATION_SLOT replication
// command for the named slot.
func ReadReplicationSlotMessage(slot string) Message {
	m, _ := QueryMessage(fmt.Sprintf("READ_REPLICATION_SLOT %s;", slot))
	return m
}

// LSN is a write-ahead log position, formatted as "%X/%X" on the wire.
type LSN uint64

// String renders the LSN the way PostgreSQL prints one: high 32 bits,
// slash, low 32 bits, both hex.
func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}

// StartReplicationMessage builds the START_REPLICATION replication
// command. slot may be empty to start an unnamed (non-slot-tracked)
// stream; xlogpos of 0 starts from "0/0".
func StartReplicationMessage(slot string, xlogpos LSN, timeline int32) Message {
	sql := "START_REPLICATION "
	if slot != "" {
		sql += fmt.Sprintf("SLOT %s ", slot)
	}
	sql += fmt.Sprintf("PHYSICAL %s TIMELINE %d;", xlogpos.String(), timeline)
	m, _ := QueryMessage(sql)
	return m
}

// y2000Micros is the microsecond Unix timestamp of 2000-01-01 00:00:00
// UTC, the epoch PostgreSQL's replication protocol measures timestamps
// from.
const y2000Micros = 946684800000000

// StandbyStatusUpdate builds the 'd' CopyData frame a streaming
// replication client sends to report its write/flush/apply progress.
// nowMicros is the caller's current Unix time in microseconds; it is
// passed in rather than read from the clock so callers can test this
// deterministically.
func StandbyStatusUpdate(received, flushed, applied LSN, nowMicros int64) Message {
	w := NewWriter()
	w.Uint8('r')
	w.Uint64(uint64(received))
	w.Uint64(uint64(flushed))
	w.Uint64(uint64(applied))
	w.Int64(nowMicros - y2000Micros)
	w.Uint8(0) // reply requested: no
	return newMessage('d', w.Bytes())
}

// CopyData wraps an arbitrary payload in a 'd' CopyData frame.
func CopyData(payload []byte) Message {
	w := NewWriter()
	w.Raw(payload)
	return newMessage('d', w.Bytes())
}

// CopyDataPayload returns the body of a 'd' CopyData frame.
func (m Message) CopyDataPayload() ([]byte, error) {
	if m.Kind() != 'd' {
		return nil, fmt.Errorf("not a copy data message: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	return r.Remaining(), nil
}

// IsCopyDone reports whether m is a 'c' CopyDone frame, which ends a
// streaming replication response.
func (m Message) IsCopyDone() bool { return m.Kind() == 'c' }

// CopyDone builds the frontend's 'c' CopyDone frame.
func CopyDone() Message { return newMessage('c', nil) }

// XLogDataHeader is the fixed-size header PostgreSQL prefixes every
// replication stream payload with inside a CopyData 'd' frame whose
// first byte (after the CopyData envelope) is 'w'.
type XLogDataHeader struct {
	StartLSN   LSN
	EndLSN     LSN
	SystemTime int64
}

// ParseXLogData splits a CopyData payload beginning with 'w' into its
// header and the raw WAL bytes that follow.
func ParseXLogData(payload []byte) (XLogDataHeader, []byte, error) {
	if len(payload) < 25 || payload[0] != 'w' {
		return XLogDataHeader{}, nil, fmt.Errorf("not an XLogData payload")
	}
	r := NewReader(payload[1:])
	hdr := XLogDataHeader{
		StartLSN:   LSN(r.Uint64()),
		EndLSN:     LSN(r.Uint64()),
		SystemTime: r.Int64(),
	}
	return hdr, r.Remaining(), nil
}
