// Package transport implements the plain-socket and TLS framed transport
// (C3) that protocol.Message frames travel over: per-call read timeouts,
// a {OK, ZERO, ERROR} read result that tolerates a short read timing out
// mid-frame by resuming from where it left off on the next call instead
// of losing the bytes already read, and chunked writes that loop until
// the whole frame is on the wire.
package transport

import (
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pgvictoria/pgvictoria/protocol"
)

// Status classifies the outcome of a single Read call.
type Status int

const (
	// OK means a complete frame was read into the result. A partial frame
	// stays buffered on the Conn and the call reports Zero instead.
	OK Status = iota
	// Zero means no complete frame arrived within the timeout window, or
	// the peer closed the connection cleanly; the caller may retry. It
	// never indicates a hard failure.
	Zero
	// Error means the read failed unrecoverably; the caller must not
	// retry on this connection.
	Error
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Zero:
		return "ZERO"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DefaultBufferSize mirrors protocol.DefaultBufferSize: the size of the
// scratch chunk fill reads into. fill allocates that chunk afresh on
// every call; it is not kept on the Conn between reads.
const DefaultBufferSize = protocol.DefaultBufferSize

// Conn is a framed PostgreSQL wire connection over a plain net.Conn or a
// *tls.Conn, shared by both roles this engine plays: backend toward its
// own clients, frontend toward real PostgreSQL servers.
type Conn struct {
	raw         net.Conn
	initialized bool

	// pending holds whatever bytes have been read so far for the frame
	// currently being assembled. A Read call that times out mid-frame
	// leaves them here instead of discarding them, so the next Read call
	// resumes the same frame rather than starting a fresh header read at
	// the connection's current (now mid-frame) stream position.
	pending []byte
}

// NewConn wraps an already-established net.Conn (plain or *tls.Conn).
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

// MarkInitialized switches the connection from untagged startup-phase
// framing to tagged post-startup framing, mirroring the C source's
// distinction between reading the raw startup packet and reading typed
// messages afterward.
func (c *Conn) MarkInitialized() { c.initialized = true }

// UpgradeTLS replaces the underlying connection with a TLS client
// connection and performs the handshake — the frontend-role upgrade,
// used when dialing an upstream server that demanded TLS in response
// to an SSLRequest.
func (c *Conn) UpgradeTLS(config *tls.Config, timeout time.Duration) error {
	return c.handshakeTLS(tls.Client(c.raw, config), timeout)
}

// UpgradeTLSServer replaces the underlying connection with a TLS server
// connection and performs the handshake — the backend-role upgrade,
// used after this engine has told a connecting client TLS is supported.
func (c *Conn) UpgradeTLSServer(config *tls.Config, timeout time.Duration) error {
	return c.handshakeTLS(tls.Server(c.raw, config), timeout)
}

// handshakeTLS drives tlsConn's handshake to completion, retrying on
// timeout per the WANT_READ/WANT_WRITE retry policy translated onto
// Go's blocking tls.Conn via read-deadline polling (Go's crypto/tls has
// no non-blocking SSL_read-style state machine to classify directly).
func (c *Conn) handshakeTLS(tlsConn *tls.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		tlsConn.SetDeadline(deadline)
		err := tlsConn.Handshake()
		if err == nil {
			tlsConn.SetDeadline(time.Time{})
			c.raw = tlsConn
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if time.Now().After(deadline) {
				return fmt.Errorf("tls handshake timed out: %w", err)
			}
			continue
		}
		return fmt.Errorf("tls handshake failed: %w", err)
	}
}

// Close closes the underlying connection. It is the only cancellation
// mechanism this engine offers: closing forces the next read or write to
// fail with Error.
func (c *Conn) Close() error { return c.raw.Close() }

// Read performs a single read attempt, applying timeout as an end-to-end
// deadline for this call only (it is cleared again before returning).
// Before the connection is marked initialized it reads an untagged
// startup-family frame (length-prefixed, no kind byte); afterward it
// reads a tagged frame (kind byte, then length-prefixed body).
//
// A timeout or a transient zero-byte condition mid-frame does not lose
// the bytes already read: they stay in c.pending, and the next call to
// Read continues filling the same frame instead of re-reading a header
// at the connection's current (now mid-frame) stream position — the
// short-read tolerance spec.md §4.3 requires ("A short read (n>0 <
// header) is still OK; higher layers may re-read and concatenate").
func (c *Conn) Read(timeout time.Duration) (protocol.Message, Status, error) {
	if timeout > 0 {
		c.raw.SetReadDeadline(time.Now().Add(timeout))
		defer c.raw.SetReadDeadline(time.Time{})
	}

	headerSize := 5
	if !c.initialized {
		headerSize = 4
	}

	if len(c.pending) < headerSize {
		if err := c.fill(headerSize); err != nil {
			return c.classifyErr(err)
		}
	}

	var total int
	if c.initialized {
		total = 1 + int(binary.BigEndian.Uint32(c.pending[1:5]))
	} else {
		total = int(binary.BigEndian.Uint32(c.pending[0:4]))
	}
	if total < headerSize {
		return nil, Error, fmt.Errorf("invalid frame length %d", total)
	}

	if len(c.pending) < total {
		if err := c.fill(total); err != nil {
			return c.classifyErr(err)
		}
	}

	frame := append([]byte(nil), c.pending[:total]...)
	c.pending = append([]byte(nil), c.pending[total:]...)
	return protocol.Message(frame), OK, nil
}

// ReadTLSResponse reads the single untagged byte ('S' or 'N') a server
// sends in reply to an SSLRequest, before any startup framing has begun
// on this connection. It shares c.pending with Read so a byte arriving
// alongside (or ahead of) the response is never dropped.
func (c *Conn) ReadTLSResponse(timeout time.Duration) (byte, error) {
	if timeout > 0 {
		c.raw.SetReadDeadline(time.Now().Add(timeout))
		defer c.raw.SetReadDeadline(time.Time{})
	}
	if err := c.fill(1); err != nil {
		return 0, err
	}
	b := c.pending[0]
	c.pending = append([]byte(nil), c.pending[1:]...)
	return b, nil
}

// fill reads from the connection until c.pending holds at least target
// bytes, appending every byte that arrives before returning — including
// on an error or timeout, so a short read is never thrown away.
func (c *Conn) fill(target int) error {
	chunk := make([]byte, DefaultBufferSize)
	for len(c.pending) < target {
		n, err := c.raw.Read(chunk[:min(len(chunk), target-len(c.pending))])
		if n > 0 {
			c.pending = append(c.pending, chunk[:n]...)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// classifyErr maps a read error into this package's {ZERO, ERROR} split:
// a deadline timeout or a clean EOF both mean "no data within the
// window," distinct from an unrecoverable failure.
func (c *Conn) classifyErr(err error) (protocol.Message, Status, error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, Zero, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, Zero, nil
	}
	return nil, Error, err
}

// Write sends m in DefaultBufferSize chunks, looping until every byte is
// written. Any error is terminal; writes accept no timeout.
func (c *Conn) Write(m protocol.Message) error {
	remaining := []byte(m)
	for len(remaining) > 0 {
		chunk := remaining
		if len(chunk) > DefaultBufferSize {
			chunk = chunk[:DefaultBufferSize]
		}
		n, err := c.raw.Write(chunk)
		if err != nil {
			return fmt.Errorf("transport write failed: %w", err)
		}
		remaining = remaining[n:]
	}
	return nil
}
