package protocol

import (
	"bytes"
	"fmt"
)

// protocol version 3.0, packed as two uint16 (major, minor) per the
// startup message layout.
const protocolVersion3 = 3<<16 | 0

// SSLRequest's and CancelRequest's version fields are special sentinel
// "versions" rather than real protocol versions; see message.c's
// equivalents.
const (
	sslRequestCode    = 1234<<16 | 5679
	cancelRequestCode = 1234<<16 | 5678
)

// Terminate is the frontend message type for a client-initiated close.
const Terminate = 'X'

// StartupMessage builds the untagged message this engine sends, as a
// frontend, to open a connection against a real PostgreSQL server:
// protocol version 3.0 followed by NUL-terminated key/value parameter
// pairs (user, database, application_name, and — for physical
// replication connections — replication=1), terminated by an extra NUL.
func StartupMessage(username, database string, replication bool) Message {
	w := NewWriter()
	w.Uint32(protocolVersion3)
	w.CString("user")
	w.CString(username)
	w.CString("database")
	w.CString(database)
	w.CString("application_name")
	w.CString("pgvictoria")
	if replication {
		w.CString("replication")
		w.CString("1")
	}
	w.Uint8(0) // terminator
	return newUntaggedMessage(w.Bytes())
}

// SSLRequest builds the untagged SSLRequest message, an 8-byte frame with
// no body beyond the sentinel version code.
func SSLRequest() Message {
	w := NewWriter()
	w.Uint32(sslRequestCode)
	return newUntaggedMessage(w.Bytes())
}

// CancelRequest builds the untagged CancelRequest message carrying the
// backend process ID and secret key handed out in a prior BackendKeyData.
func CancelRequest(pid, secret int32) Message {
	w := NewWriter()
	w.Uint32(cancelRequestCode)
	w.Int32(pid)
	w.Int32(secret)
	return newUntaggedMessage(w.Bytes())
}

// StartupVersion returns the "major.minor" version encoded in an untagged
// startup-phase message's first 4 body bytes.
func (m Message) StartupVersion() (string, error) {
	if m.Kind() != 0 {
		return "", fmt.Errorf("expected untagged startup message, got: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(4) // length
	code := r.Uint32()
	return fmt.Sprintf("%d.%d", code>>16, code&0xffff), nil
}

// StartupArgs parses the NUL-terminated key/value parameter pairs out of
// a StartupMessage.
func (m Message) StartupArgs() (map[string]string, error) {
	if m.Kind() != 0 {
		return nil, fmt.Errorf("expected untagged startup message, got: %q", m.Kind())
	}

	buf := m[8:] // skip length (4) and version (4)
	var parts []string
	for len(buf) > 0 {
		idx := bytes.IndexByte(buf, 0)
		if idx == -1 {
			break
		}
		parts = append(parts, string(buf[:idx]))
		buf = buf[idx+1:]
	}

	args := make(map[string]string)
	for i := 0; i+1 < len(parts); i += 2 {
		args[parts[i]] = parts[i+1]
	}
	return args, nil
}

// IsTLSRequest reports whether this untagged message is an SSLRequest.
func (m Message) IsTLSRequest() bool {
	v, _ := m.StartupVersion()
	return v == "1234.5679"
}

// IsCancel reports whether this untagged message is a CancelRequest.
func (m Message) IsCancel() bool {
	v, _ := m.StartupVersion()
	return v == "1234.5678"
}

// CancelKeyData extracts the process ID and secret key from a
// CancelRequest.
func (m Message) CancelKeyData() (pid, secret int32, err error) {
	if !m.IsCancel() {
		return -1, -1, fmt.Errorf("not a cancel message")
	}
	r := NewReader(m)
	r.Skip(8) // length + version code
	return r.Int32(), r.Int32(), nil
}

// IsTerminate reports whether this is a frontend Terminate message.
func (m Message) IsTerminate() bool { return m.Kind() == Terminate }

// TLSResponse builds the single-byte reply to an SSLRequest: 'S' if TLS
// negotiation should proceed, 'N' if the connection continues in the
// clear.
func TLSResponse(supported bool) Message {
	if supported {
		return Message{'S'}
	}
	return Message{'N'}
}

// BackendKeyData builds the message handing a client the process ID and
// secret key it will need to send in a CancelRequest.
func BackendKeyData(pid, secret int32) Message {
	w := NewWriter()
	w.Int32(pid)
	w.Int32(secret)
	return newMessage('K', w.Bytes())
}

// ParameterStatus builds a runtime-parameter announcement.
func ParameterStatus(name, value string) Message {
	w := NewWriter()
	w.CString(name)
	w.CString(value)
	return newMessage('S', w.Bytes())
}
