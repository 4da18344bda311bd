package query

import (
	"net"
	"testing"

	"github.com/pgvictoria/pgvictoria/pgerr"
	"github.com/pgvictoria/pgvictoria/protocol"
	"github.com/pgvictoria/pgvictoria/transport"
	"github.com/stretchr/testify/require"
)

// serveOnce reads one query off the server side of a pipe (discarding
// it) and writes back the given reply frames concatenated.
func serveOnce(t *testing.T, server net.Conn, reply ...protocol.Message) {
	t.Helper()
	serverConn := transport.NewConn(server)
	serverConn.MarkInitialized()
	go func() {
		// drain the incoming Query frame
		serverConn.Read(0)
		for _, m := range reply {
			if err := serverConn.Write(m); err != nil {
				return
			}
		}
	}()
}

func TestExecuteHappyPath(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	one := "1"
	serveOnce(t, server,
		protocol.RowDescription([]protocol.Column{{Name: "?column?", OID: 23}}),
		protocol.DataRow([]*string{&one}),
		protocol.CommandComplete("SELECT 1"),
		protocol.ReadyForQuery,
	)

	clientConn := transport.NewConn(client)
	clientConn.MarkInitialized()

	resp, err := Execute(clientConn, "SELECT 1;")
	require.NoError(t, err)
	require.False(t, resp.IsCommandComplete)
	require.Equal(t, []string{"?column?"}, resp.Names)
	require.Len(t, resp.Tuples, 1)
	require.Equal(t, "1", *resp.Tuples[0][0])
}

func TestExecuteErrorPath(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serveOnce(t, server,
		protocol.ErrorResponse(testBackendError{}),
		protocol.ReadyForQuery,
	)

	clientConn := transport.NewConn(client)
	clientConn.MarkInitialized()

	resp, err := Execute(clientConn, "SELECT bogus")
	require.Nil(t, resp)
	require.Error(t, err)

	pe, ok := err.(pgerr.Err)
	require.True(t, ok)
	require.Equal(t, "42601", pe.Code())
	require.Contains(t, pe.Error(), "syntax error")
}

func TestExecuteCommandCompleteOnly(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serveOnce(t, server,
		protocol.CommandComplete("INSERT 0 1"),
		protocol.ReadyForQuery,
	)

	clientConn := transport.NewConn(client)
	clientConn.MarkInitialized()

	resp, err := Execute(clientConn, "INSERT INTO t VALUES (1);")
	require.NoError(t, err)
	require.True(t, resp.IsCommandComplete)
	require.Equal(t, "INSERT 0 1", resp.CommandTag)
}

type testBackendError struct{}

func (testBackendError) Error() string    { return "syntax error" }
func (testBackendError) Code() string     { return "42601" }
func (testBackendError) Severity() string { return "ERROR" }
