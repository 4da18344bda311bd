package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifySystemMessage(t *testing.T) {
	m := IdentifySystemMessage()
	text, err := m.QueryText()
	require.NoError(t, err)
	require.Equal(t, "IDENTIFY_SYSTEM;", text)
}

func TestTimelineHistoryMessage(t *testing.T) {
	m := TimelineHistoryMessage(3)
	text, err := m.QueryText()
	require.NoError(t, err)
	require.Equal(t, "TIMELINE_HISTORY 3;", text)
}

func TestReadReplicationSlotMessage(t *testing.T) {
	m := ReadReplicationSlotMessage("my_slot")
	text, err := m.QueryText()
	require.NoError(t, err)
	require.Equal(t, "READ_REPLICATION_SLOT my_slot;", text)
}

func TestStartReplicationMessageWithSlot(t *testing.T) {
	m := StartReplicationMessage("my_slot", LSN(0x0102030405), 7)
	text, err := m.QueryText()
	require.NoError(t, err)
	require.Equal(t, "START_REPLICATION SLOT my_slot PHYSICAL 1/2030405 TIMELINE 7;", text)
}

func TestStartReplicationMessageWithoutSlot(t *testing.T) {
	m := StartReplicationMessage("", LSN(0), 1)
	text, err := m.QueryText()
	require.NoError(t, err)
	require.Equal(t, "START_REPLICATION PHYSICAL 0/0 TIMELINE 1;", text)
}

// TestStandbyStatusUpdateLiteralScenario is scenario S2: a received/
// flushed/applied triple and now=y2000+0 produce a 39-byte 'd' frame
// starting with 'r', carrying three i64 LSNs, a zero i64 timestamp, and
// a trailing zero byte.
func TestStandbyStatusUpdateLiteralScenario(t *testing.T) {
	m := StandbyStatusUpdate(LSN(0x0000000102030405), LSN(0x0000000102030400), LSN(0x0000000102030300), y2000Micros)
	require.Equal(t, byte('d'), m.Kind())
	require.Len(t, m, 39)

	r := NewReader(m)
	r.Skip(5)
	require.Equal(t, byte('r'), r.Uint8())
	require.Equal(t, uint64(0x0000000102030405), r.Uint64())
	require.Equal(t, uint64(0x0000000102030400), r.Uint64())
	require.Equal(t, uint64(0x0000000102030300), r.Uint64())
	require.Equal(t, int64(0), r.Int64())
	require.Equal(t, uint8(0), r.Uint8())
}

func TestStandbyStatusUpdateLayout(t *testing.T) {
	m := StandbyStatusUpdate(LSN(0x0102030405), LSN(0x0102030400), LSN(0x0102030300), 0)
	require.Equal(t, byte('d'), m.Kind())

	r := NewReader(m)
	r.Skip(5)
	require.Equal(t, byte('r'), r.Uint8())
	require.Equal(t, uint64(0x0102030405), r.Uint64())
	require.Equal(t, uint64(0x0102030400), r.Uint64())
	require.Equal(t, uint64(0x0102030300), r.Uint64())
	require.Equal(t, int64(-y2000Micros), r.Int64())
	require.Equal(t, uint8(0), r.Uint8())
	require.Equal(t, 0, r.Len())
}

func TestCopyDataPayloadRoundTrip(t *testing.T) {
	m := CopyData([]byte("raw-wal-bytes"))
	payload, err := m.CopyDataPayload()
	require.NoError(t, err)
	require.Equal(t, []byte("raw-wal-bytes"), payload)
}

func TestCopyDoneIsRecognized(t *testing.T) {
	require.True(t, CopyDone().IsCopyDone())
	require.False(t, CopyData(nil).IsCopyDone())
}

func TestParseXLogData(t *testing.T) {
	w := NewWriter()
	w.Uint8('w')
	w.Uint64(100)
	w.Uint64(200)
	w.Int64(42)
	w.Raw([]byte("waldata"))

	hdr, data, err := ParseXLogData(w.Bytes())
	require.NoError(t, err)
	require.Equal(t, LSN(100), hdr.StartLSN)
	require.Equal(t, LSN(200), hdr.EndLSN)
	require.Equal(t, int64(42), hdr.SystemTime)
	require.Equal(t, []byte("waldata"), data)
}

func TestLSNString(t *testing.T) {
	require.Equal(t, "0/0", LSN(0).String())
	require.Equal(t, "1/2030405", LSN(0x0102030405).String())
}
