package main

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pgvictoria/pgvictoria/config"
	"github.com/pgvictoria/pgvictoria/pglog"
	"github.com/pgvictoria/pgvictoria/protocol"
	"github.com/pgvictoria/pgvictoria/query"
	"github.com/pgvictoria/pgvictoria/secret"
	"github.com/pgvictoria/pgvictoria/transport"
)

// dialTimeout bounds connecting to an upstream server and completing
// its authentication handshake.
const dialTimeout = 10 * time.Second

// maxIdleReads bounds how many ZERO reads in a row the relay loop
// tolerates from a client before giving up on a connection that went
// away without a clean Terminate — the wire protocol has no other
// signal that distinguishes a silently dead peer from one that is just
// idle between queries.
const maxIdleReads = 5000

// session drives one connecting client end to end: the backend-role
// handshake against the client, the frontend-role handshake against the
// upstream server its requested database name selects, and the
// query-relay loop between the two.
type session struct {
	cfg       *config.Main
	client    net.Conn
	tlsConfig *tls.Config
}

func (s *session) run() error {
	authTimeout := time.Duration(s.cfg.AuthenticationTimeout) * time.Second
	client := transport.NewConn(s.client)

	msg, err := blockingRead(client, authTimeout)
	if err != nil {
		return err
	}
	if msg.IsTLSRequest() {
		if s.tlsConfig != nil {
			if err := client.Write(protocol.TLSResponse(true)); err != nil {
				return err
			}
			if err := client.UpgradeTLSServer(s.tlsConfig, authTimeout); err != nil {
				return fmt.Errorf("client tls handshake: %w", err)
			}
		} else {
			if err := client.Write(protocol.TLSResponse(false)); err != nil {
				return err
			}
		}
		msg, err = blockingRead(client, authTimeout)
		if err != nil {
			return err
		}
	}
	if msg.IsCancel() {
		return nil // cancellation is not implemented; drop silently
	}

	args, err := msg.StartupArgs()
	if err != nil {
		client.Write(protocol.ConnectionRefused())
		return err
	}
	username, database := args["user"], args["database"]

	user, ok := findUser(s.cfg.Users, username)
	if !ok {
		client.Write(protocol.ConnectionRefused())
		return fmt.Errorf("unknown user %q", username)
	}
	srv, ok := findServer(s.cfg.Servers, database)
	if !ok {
		client.Write(protocol.ConnectionRefused())
		return fmt.Errorf("unknown database %q", database)
	}

	if err := authenticateClient(client, username, user.Password, authTimeout); err != nil {
		return err
	}

	pid, secretKey := int32(os.Getpid()), randomInt32()
	for _, m := range []protocol.Message{
		protocol.AuthenticationOK(),
		protocol.ParameterStatus("server_version", "13.0"),
		protocol.ParameterStatus("client_encoding", "UTF8"),
		protocol.BackendKeyData(pid, secretKey),
		protocol.ReadyForQuery,
	} {
		if err := client.Write(m); err != nil {
			return err
		}
	}

	upstreamConn, err := net.DialTimeout("tcp", net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port)), dialTimeout)
	if err != nil {
		client.Write(protocol.ErrorResponse(fmt.Errorf("connecting to upstream: %w", err)))
		return err
	}
	upstream := transport.NewConn(upstreamConn)
	defer upstream.Close()

	if srv.TLS {
		if err := negotiateUpstreamTLS(upstream, srv.Host, s.cfg.TLSCAFile, dialTimeout); err != nil {
			client.Write(protocol.ErrorResponse(fmt.Errorf("upstream tls: %w", err)))
			return err
		}
	}

	upstreamUser, ok := findUser(s.cfg.Users, srv.Username)
	if !ok {
		return fmt.Errorf("server %q references unknown user %q", srv.Name, srv.Username)
	}
	if err := authenticateUpstream(upstream, srv.Username, upstreamUser.Password, database, dialTimeout); err != nil {
		client.Write(protocol.ErrorResponse(fmt.Errorf("authenticating to upstream: %w", err)))
		return err
	}

	return relay(client, upstream)
}

// relay forwards simple-query-protocol traffic from the client to the
// upstream connection, translating each query.Response back into wire
// frames, until the client sends Terminate or the connection dies. Reads
// carry no timeout: a connection with no query pending should block
// indefinitely, exactly like a real backend waiting between statements.
func relay(client, upstream *transport.Conn) error {
	idleReads := 0
	for {
		msg, status, err := client.Read(0)
		switch status {
		case transport.Error:
			return err
		case transport.Zero:
			idleReads++
			if idleReads >= maxIdleReads {
				return fmt.Errorf("client idle with no data for too long")
			}
			continue
		}
		idleReads = 0

		if msg.IsTerminate() {
			return nil
		}
		if msg.Kind() != protocol.Query {
			continue // the engine only relays simple-query-protocol traffic
		}

		sql, err := msg.QueryText()
		if err != nil {
			client.Write(protocol.ErrorResponse(err))
			continue
		}

		resp, err := query.Execute(upstream, sql)
		if err != nil {
			pglog.Error("query failed", "sql", sql, "err", err)
			client.Write(protocol.ErrorResponse(err))
			if err := client.Write(protocol.ReadyForQuery); err != nil {
				return err
			}
			continue
		}

		if err := writeResponse(client, resp); err != nil {
			return err
		}
		if err := client.Write(protocol.ReadyForQuery); err != nil {
			return err
		}
	}
}

func writeResponse(client *transport.Conn, resp *query.Response) error {
	if resp.IsCommandComplete {
		return client.Write(protocol.CommandComplete(resp.CommandTag))
	}

	cols := make([]protocol.Column, len(resp.Names))
	for i, name := range resp.Names {
		cols[i] = protocol.Column{Name: name}
	}
	if err := client.Write(protocol.RowDescription(cols)); err != nil {
		return err
	}
	for _, row := range resp.Tuples {
		if err := client.Write(protocol.DataRow(row)); err != nil {
			return err
		}
	}
	return client.Write(protocol.CommandComplete(fmt.Sprintf("SELECT %d", len(resp.Tuples))))
}

// negotiateUpstreamTLS asks an upstream server whether it supports TLS
// via SSLRequest and, if it agrees, upgrades the connection before the
// startup handshake proceeds — the frontend-role mirror of run's own
// SSLRequest handling against a connecting client. An upstream that
// declines is treated as an error: a [server] section with tls = true
// is an operator's declaration that the link must be encrypted.
func negotiateUpstreamTLS(conn *transport.Conn, serverName, caFile string, timeout time.Duration) error {
	if err := conn.Write(protocol.SSLRequest()); err != nil {
		return err
	}
	reply, err := conn.ReadTLSResponse(timeout)
	if err != nil {
		return err
	}
	if reply != 'S' {
		return fmt.Errorf("upstream server declined tls")
	}

	tlsConfig := &tls.Config{ServerName: serverName}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("reading tls_ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in tls_ca_file")
		}
		tlsConfig.RootCAs = pool
	}
	return conn.UpgradeTLS(tlsConfig, timeout)
}

// authenticateClient runs the backend-role MD5 challenge-response
// exchange against the connecting client.
func authenticateClient(client *transport.Conn, username, password string, timeout time.Duration) error {
	salt, err := protocol.GenerateSalt()
	if err != nil {
		return err
	}
	if err := client.Write(protocol.AuthenticationMD5Password(salt)); err != nil {
		return err
	}
	client.MarkInitialized()

	msg, err := blockingRead(client, timeout)
	if err != nil {
		return err
	}
	got, err := msg.ExtractPassword()
	if err != nil {
		return err
	}
	if got != protocol.MD5PasswordHash(username, password, salt) {
		client.Write(protocol.ErrorResponse(fmt.Errorf("password authentication failed for user %q", username)))
		return fmt.Errorf("password authentication failed for user %q", username)
	}
	return nil
}

// authenticateUpstream opens the frontend-role handshake against a real
// PostgreSQL server, satisfying whichever AuthenticationRequest sub-code
// it demands (cleartext, MD5, or SCRAM-SHA-256), then drains the
// ParameterStatus/BackendKeyData frames up to ReadyForQuery.
func authenticateUpstream(conn *transport.Conn, username, password, database string, timeout time.Duration) error {
	if err := conn.Write(protocol.StartupMessage(username, database, false)); err != nil {
		return err
	}
	conn.MarkInitialized()

	var scram *protocol.ScramClient
	var expectedServerSig string

	for {
		msg, err := blockingRead(conn, timeout)
		if err != nil {
			return err
		}

		switch msg.Kind() {
		case 'E':
			fields, _ := msg.ErrorFields()
			return fmt.Errorf("upstream authentication failed: %s", fields['M'])
		case 'R':
			code, err := msg.AuthCode()
			if err != nil {
				return err
			}
			switch code {
			case 0: // AuthenticationOK
				return drainUntilReady(conn, timeout)
			case 3: // cleartext password
				if err := conn.Write(protocol.PasswordMessage(password)); err != nil {
					return err
				}
			case 5: // MD5 password
				salt, err := msg.AuthMD5Salt()
				if err != nil {
					return err
				}
				hash := protocol.MD5PasswordHash(username, password, salt)
				if err := conn.Write(protocol.PasswordMessage(hash)); err != nil {
					return err
				}
			case 10: // SASL mechanism announcement
				scram, err = protocol.NewScramClient()
				if err != nil {
					return err
				}
				if err := conn.Write(protocol.SASLInitialResponse(protocol.ScramMechanism, scram.ClientFirstMessage())); err != nil {
					return err
				}
			case 11: // SASL continue
				payload, err := msg.AuthSASLPayload()
				if err != nil {
					return err
				}
				if err := scram.ServerFirstMessage(payload, password); err != nil {
					return err
				}
				final, sig := scram.ClientFinalMessage()
				expectedServerSig = sig
				if err := conn.Write(protocol.SASLResponse(final)); err != nil {
					return err
				}
			case 12: // SASL final
				payload, err := msg.AuthSASLPayload()
				if err != nil {
					return err
				}
				sig, err := protocol.ParseServerFinal(payload)
				if err != nil {
					return err
				}
				if sig != expectedServerSig {
					return fmt.Errorf("scram: server signature mismatch")
				}
			default:
				return fmt.Errorf("unsupported authentication method %d", code)
			}
		default:
			return fmt.Errorf("unexpected message %q during authentication", msg.Kind())
		}
	}
}

// drainUntilReady consumes the ParameterStatus/BackendKeyData frames a
// server sends after AuthenticationOK, stopping once ReadyForQuery
// arrives.
func drainUntilReady(conn *transport.Conn, timeout time.Duration) error {
	for {
		msg, err := blockingRead(conn, timeout)
		if err != nil {
			return err
		}
		if msg.Kind() == 'Z' {
			return nil
		}
		if msg.Kind() == 'E' {
			fields, _ := msg.ErrorFields()
			return fmt.Errorf("upstream error before ready: %s", fields['M'])
		}
	}
}

// blockingRead reads the next frame off conn, sleeping and retrying on
// ZERO exactly as the query executor does, rather than surfacing ZERO as
// a condition the caller must handle — handshake code always wants the
// next frame, never a "nothing yet" signal.
func blockingRead(conn *transport.Conn, timeout time.Duration) (protocol.Message, error) {
	for {
		msg, status, err := conn.Read(timeout)
		switch status {
		case transport.OK:
			return msg, nil
		case transport.Error:
			return nil, err
		case transport.Zero:
			time.Sleep(time.Millisecond)
		}
	}
}

func findUser(users []secret.User, username string) (secret.User, bool) {
	for _, u := range users {
		if u.Username == username {
			return u, true
		}
	}
	return secret.User{}, false
}

func findServer(servers []config.Server, name string) (config.Server, bool) {
	for _, s := range servers {
		if s.Name == name {
			return s, true
		}
	}
	return config.Server{}, false
}

func randomInt32() int32 {
	var b [4]byte
	rand.Read(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}
