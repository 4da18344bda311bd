package protocol

import (
	"fmt"

	"github.com/jackc/pgerrcode"
)

// ErrCoder is implemented by errors that carry a SQLSTATE code.
type ErrCoder interface {
	Code() string
}

// ErrHinter is implemented by errors that carry a hint string.
type ErrHinter interface {
	Hint() string
}

// ErrSeverer is implemented by errors that carry a severity level.
type ErrSeverer interface {
	Severity() string
}

// ErrorResponse builds an 'E' frame from err, filling in Severity/Code/
// Message from well-known optional interfaces and defaulting to ERROR
// severity and SQLSTATE XX000 (internal_error) when err doesn't implement
// them.
func ErrorResponse(err error) Message {
	fields := map[byte]string{
		'S': "ERROR",
		'C': pgerrcode.InternalError,
		'M': err.Error(),
	}
	if s, ok := err.(ErrSeverer); ok && s.Severity() != "" {
		fields['S'] = s.Severity()
	}
	if c, ok := err.(interface{ Code() string }); ok && c.Code() != "" {
		fields['C'] = c.Code()
	}
	if h, ok := err.(ErrHinter); ok && h.Hint() != "" {
		fields['H'] = h.Hint()
	}

	w := NewWriter()
	for _, k := range []byte{'S', 'V', 'C', 'M', 'D', 'H', 'P'} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		w.Uint8(k)
		w.CString(v)
	}
	w.Uint8(0)
	return newMessage('E', w.Bytes())
}

// NoticeResponse builds an 'N' frame, identical in layout to ErrorResponse
// but advisory rather than terminal.
func NoticeResponse(severity, message string) Message {
	w := NewWriter()
	w.Uint8('S')
	w.CString(severity)
	w.Uint8('M')
	w.CString(message)
	w.Uint8(0)
	return newMessage('N', w.Bytes())
}

// ErrorFields parses the field/value pairs out of an ErrorResponse or
// NoticeResponse frame.
func (m Message) ErrorFields() (map[byte]string, error) {
	if m.Kind() != 'E' && m.Kind() != 'N' {
		return nil, fmt.Errorf("not an error or notice response: %q", m.Kind())
	}
	r := NewReader(m)
	r.Skip(5)
	fields := make(map[byte]string)
	for r.Len() > 0 {
		k := r.Uint8()
		if k == 0 {
			break
		}
		fields[k] = r.CString()
	}
	return fields, nil
}

// TerminateMessage builds the frontend's 'X' connection-close frame.
func TerminateMessage() Message {
	return newMessage(Terminate, nil)
}

// connectionRefusedText/connectionRefusedTextLegacy are the fixed
// messages emitted when a connection is rejected before authentication
// completes, mirroring message.c's pgvictoria_write_connection_refused
// and its _old legacy counterpart for pre-3.0 clients.
const (
	connectionRefusedText       = "connection refused"
	connectionRefusedLegacyText = "connection refused, server does not support the requested protocol version"
)

// ConnectionRefused builds the standard protocol-3.0 ErrorResponse sent
// when a connection is rejected before authentication.
func ConnectionRefused() Message {
	return ErrorResponse(refusalError{connectionRefusedText})
}

// ConnectionRefusedLegacy builds the pre-3.0 flavor of the refusal: a
// plain NUL-terminated string with no field tags, sent when the
// client's startup packet predates the tagged ErrorResponse format and
// cannot otherwise be answered.
func ConnectionRefusedLegacy() Message {
	w := NewWriter()
	w.CString(connectionRefusedLegacyText)
	return newMessage('E', w.Bytes())
}

type refusalError struct{ msg string }

func (e refusalError) Error() string    { return e.msg }
func (e refusalError) Code() string     { return pgerrcode.SQLClientUnableToEstablishSQLConnection }
func (e refusalError) Severity() string { return "FATAL" }
