package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pgvictoria/pgvictoria/config"
	"github.com/pgvictoria/pgvictoria/pglog"
	"github.com/pgvictoria/pgvictoria/secret"
)

// listenPort is the fixed PostgreSQL-convention port this engine binds
// on, both over TCP and as the suffix of the Unix socket's well-known
// name (".s.PGSQL.<port>") — the configuration format carries no
// listen-port key of its own (§4.7 only lists host and
// unix_socket_dir), mirroring how the original engine derives its
// socket name from a compiled-in default.
const listenPort = "5432"

// Server accepts connections from pgvictoria's own clients and routes
// each one, after authenticating it, to the upstream config.Server its
// requested database name names.
type Server struct {
	Config   *config.Main
	Provider secret.MasterKeyProvider

	tlsConfig *tls.Config
}

// ListenAndServe binds the Unix socket under unix_socket_dir and, when
// host names an interface, a TCP listener too, and runs both accept
// loops until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConfig, err := loadTLSConfig(s.Config)
	if err != nil {
		return err
	}
	s.tlsConfig = tlsConfig

	var listeners []net.Listener

	sockPath := filepath.Join(s.Config.UnixSocketDir, ".s.PGSQL."+listenPort)
	os.Remove(sockPath) // drop a stale socket left by an unclean shutdown
	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		return err
	}
	listeners = append(listeners, unixLn)

	if host := s.Config.Host; host != "" {
		if host == "*" {
			host = ""
		}
		tcpLn, err := net.Listen("tcp", net.JoinHostPort(host, listenPort))
		if err != nil {
			unixLn.Close()
			return err
		}
		listeners = append(listeners, tcpLn)
	}

	go func() {
		<-ctx.Done()
		for _, ln := range listeners {
			ln.Close()
		}
		os.Remove(sockPath)
	}()

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		pglog.Info("listening", "addr", ln.Addr().String())
		go func(ln net.Listener) { errCh <- s.acceptLoop(ctx, ln) }(ln)
	}

	for range listeners {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
		}
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	sess := &session{cfg: s.Config, client: conn, tlsConfig: s.tlsConfig}
	if err := sess.run(); err != nil {
		pglog.Error("session ended", "remote", conn.RemoteAddr(), "err", err)
	}
}

// loadTLSConfig builds the server-role TLS configuration this engine
// offers its own clients from tls_cert_file/tls_key_file, or returns nil
// when TLS is not configured — config.Main.Validate already enforces
// that the pair is set together.
func loadTLSConfig(cfg *config.Main) (*tls.Config, error) {
	if cfg.TLSCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading tls certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
