package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/pgvictoria/pgvictoria/protocol"
	"github.com/stretchr/testify/require"
)

// generateTestCert builds a self-signed certificate/key pair for
// exercising the TLS upgrade path without any files on disk.
func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestConnWriteReadTaggedRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	serverConn.MarkInitialized()
	clientConn := NewConn(client)
	clientConn.MarkInitialized()

	m, err := protocol.QueryMessage("SELECT 1;")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- clientConn.Write(m) }()

	got, status, err := serverConn.Read(time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
	require.Equal(t, m, got)
	require.NoError(t, <-done)
}

func TestConnReadUntaggedStartup(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	clientConn := NewConn(client)

	m := protocol.StartupMessage("alice", "db", false)

	done := make(chan error, 1)
	go func() { done <- clientConn.Write(m) }()

	got, status, err := serverConn.Read(time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
	require.Equal(t, m, got)
	require.NoError(t, <-done)
}

func TestConnReadTimesOutAsZero(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	_, status, err := serverConn.Read(10 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Zero, status)
}

// TestConnReadResumesAfterTimeoutMidFrame proves a frame that arrives in
// two pieces straddling a Read deadline is not lost: the bytes read
// before the timeout stay buffered, and a subsequent Read call resumes
// the same frame instead of reading a fresh header at the connection's
// now mid-frame stream position. This is the scenario a slow upstream
// link produces when a DataRow's bytes trickle in past the query
// executor's per-read deadline.
func TestConnReadResumesAfterTimeoutMidFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := NewConn(server)
	serverConn.MarkInitialized()

	m, err := protocol.QueryMessage("SELECT 1;")
	require.NoError(t, err)
	full := []byte(m)
	split := 6 // past the 5-byte header, short of the full frame

	writeDone := make(chan error, 1)
	go func() {
		if _, err := client.Write(full[:split]); err != nil {
			writeDone <- err
			return
		}
		time.Sleep(30 * time.Millisecond)
		_, err := client.Write(full[split:])
		writeDone <- err
	}()

	_, status, err := serverConn.Read(10 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Zero, status)

	got, status, err := serverConn.Read(time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
	require.Equal(t, m, got)
	require.NoError(t, <-writeDone)
}

// TestConnTLSHandshakeRoundTrip proves UpgradeTLS/UpgradeTLSServer
// establish a working session over a net.Pipe and that framed messages
// still read and write correctly once the connection is wrapped.
func TestConnTLSHandshakeRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cert := generateTestCert(t)
	serverConn := NewConn(server)
	clientConn := NewConn(client)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serverConn.UpgradeTLSServer(&tls.Config{Certificates: []tls.Certificate{cert}}, time.Second)
	}()

	clientErr := make(chan error, 1)
	go func() {
		clientErr <- clientConn.UpgradeTLS(&tls.Config{InsecureSkipVerify: true}, time.Second)
	}()

	require.NoError(t, <-serverErr)
	require.NoError(t, <-clientErr)

	serverConn.MarkInitialized()
	clientConn.MarkInitialized()

	m, err := protocol.QueryMessage("SELECT 1;")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- clientConn.Write(m) }()

	got, status, err := serverConn.Read(time.Second)
	require.NoError(t, err)
	require.Equal(t, OK, status)
	require.Equal(t, m, got)
	require.NoError(t, <-done)
}

// TestConnReadTLSResponse proves the single untagged SSLRequest reply
// byte is read and returned, matching the frontend-role SSLRequest
// negotiation used before dialing an upstream server.
func TestConnReadTLSResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	clientConn := NewConn(client)

	writeDone := make(chan error, 1)
	go func() {
		_, err := server.Write([]byte{'S'})
		writeDone <- err
	}()

	reply, err := clientConn.ReadTLSResponse(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte('S'), reply)
	require.NoError(t, <-writeDone)
}

func TestConnReadAfterCloseIsError(t *testing.T) {
	server, client := net.Pipe()
	client.Close()

	serverConn := NewConn(server)
	_, status, err := serverConn.Read(time.Second)
	require.Error(t, err)
	require.Equal(t, Error, status)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "OK", OK.String())
	require.Equal(t, "ZERO", Zero.String())
	require.Equal(t, "ERROR", Error.String())
}
