// Package pgerr declares the error kinds the engine's components return,
// following the teacher's Err interface shape: an error that also
// carries an optional hint, a SQLSTATE-style code, and a byte offset.
package pgerr

import "fmt"

// Err is implemented by every error this module originates.
type Err interface {
	error
	WithHint(hint string, args ...interface{}) Err
	WithCode(code string) Err
	WithLoc(loc int) Err
	Hint() string
	Code() string
	Loc() int
}

// Kind identifies which of the six error categories in the error
// handling design an error belongs to.
type Kind int

const (
	// Transport covers unrecoverable read/write failures; not retryable.
	Transport Kind = iota
	// TransportTimeout covers a ZERO read: no data within the window,
	// retryable by the caller.
	TransportTimeout
	// Protocol covers a malformed frame, or a response missing the T/C/E
	// tag the caller expected.
	Protocol
	// Backend covers a received ErrorResponse ('E' frame).
	Backend
	// Crypto covers cipher init/update/final or key derivation failure.
	Crypto
	// Config covers the four configuration sub-statuses below.
	Config
)

// ConfigStatus distinguishes the four ways configuration loading can
// fail, so callers can tell "master key missing" from "too many users"
// from an ordinary parse error.
type ConfigStatus int

const (
	// ConfigOK indicates no error.
	ConfigOK ConfigStatus = iota
	// ConfigFileError covers file-not-found or parse failure.
	ConfigFileError
	// ConfigMasterKeyMissing covers an unavailable master key.
	ConfigMasterKeyMissing
	// ConfigUserCountExceeded covers a users file with more than
	// NUMBER_OF_USERS entries — distinct from ConfigMasterKeyMissing so
	// callers never conflate the two.
	ConfigUserCountExceeded
	// ConfigValidationFailed covers a structurally valid file whose
	// contents fail semantic validation.
	ConfigValidationFailed
)

type pgErr struct {
	kind   Kind
	status ConfigStatus
	m      string
	h      string
	c      string
	l      int
}

func (e *pgErr) Error() string { return e.m }
func (e *pgErr) Hint() string  { return e.h }
func (e *pgErr) Code() string  { return e.c }
func (e *pgErr) Loc() int      { return e.l }

func (e *pgErr) WithHint(hint string, args ...interface{}) Err {
	e.h = fmt.Sprintf(hint, args...)
	return e
}

func (e *pgErr) WithCode(code string) Err {
	e.c = code
	return e
}

func (e *pgErr) WithLoc(loc int) Err {
	e.l = loc
	return e
}

// KindOf returns which of the six categories err belongs to, if it is one
// of this package's errors.
func KindOf(err error) (Kind, bool) {
	pe, ok := err.(*pgErr)
	if !ok {
		return 0, false
	}
	return pe.kind, true
}

// ConfigStatusOf returns the config sub-status of err, if it is a Config
// kind error from this package.
func ConfigStatusOf(err error) (ConfigStatus, bool) {
	pe, ok := err.(*pgErr)
	if !ok || pe.kind != Config {
		return ConfigOK, false
	}
	return pe.status, true
}

func newErr(kind Kind, msg string, args ...interface{}) Err {
	return &pgErr{kind: kind, m: fmt.Sprintf(msg, args...)}
}

// TransportError builds an unrecoverable read/write failure.
func TransportError(msg string, args ...interface{}) Err {
	return newErr(Transport, msg, args...)
}

// TransportTimeoutError builds a retryable ZERO-read condition.
func TransportTimeoutError(msg string, args ...interface{}) Err {
	return newErr(TransportTimeout, msg, args...)
}

// ProtocolError builds a malformed-frame or unexpected-response error.
func ProtocolError(msg string, args ...interface{}) Err {
	return newErr(Protocol, msg, args...)
}

// BackendError builds an error surfacing an ErrorResponse's message and
// SQLSTATE code.
func BackendError(sqlstate, msg string) Err {
	e := newErr(Backend, msg)
	return e.WithCode(sqlstate)
}

// CryptoError builds a cipher or key-derivation failure.
func CryptoError(msg string, args ...interface{}) Err {
	return newErr(Crypto, msg, args...)
}

// ConfigError builds a configuration failure carrying one of the four
// sub-statuses.
func ConfigError(status ConfigStatus, msg string, args ...interface{}) Err {
	e := &pgErr{kind: Config, status: status, m: fmt.Sprintf(msg, args...)}
	return e
}
