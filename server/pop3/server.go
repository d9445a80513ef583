// Package pop3 implements the POP3 frontend (RFC 1939) with the CAPA, TOP,
// UIDL, APOP and STLS extensions. The wire protocol is hand-rolled over
// bufio; each connection runs in its own goroutine against a snapshot of
// the user's INBOX.
package pop3

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/store"
)

// POP3ServerOptions configures one POP3 listener.
type POP3ServerOptions struct {
	// Name distinguishes listeners in logs ("POP3", "POP3S").
	Name string

	// TLSConfig enables STLS on plaintext listeners and is the connection
	// config for implicit-TLS listeners.
	TLSConfig *tls.Config

	// ImplicitTLS wraps the listener in TLS immediately (POP3S).
	ImplicitTLS bool

	Debug bool
}

// POP3Server accepts POP3 connections against the shared store.
type POP3Server struct {
	appCtx   context.Context
	name     string
	hostname string

	store *store.Store

	tlsConfig   *tls.Config
	implicitTLS bool
	debug       bool

	mu       sync.Mutex
	listener net.Listener
	sessions map[*POP3Session]struct{}
	closed   bool

	wg sync.WaitGroup
}

// New creates a POP3 server. Call Serve with a bound listener to run it.
func New(appCtx context.Context, hostname string, st *store.Store, opts POP3ServerOptions) *POP3Server {
	name := opts.Name
	if name == "" {
		name = "POP3"
	}
	return &POP3Server{
		appCtx:      appCtx,
		name:        name,
		hostname:    hostname,
		store:       st,
		tlsConfig:   opts.TLSConfig,
		implicitTLS: opts.ImplicitTLS,
		debug:       opts.Debug,
		sessions:    make(map[*POP3Session]struct{}),
	}
}

// Serve accepts connections on l until Close.
func (s *POP3Server) Serve(l net.Listener) error {
	if s.implicitTLS {
		l = tls.NewListener(l, s.tlsConfig)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.listener = l
	s.mu.Unlock()

	logger.Info("Server listening", "protocol", s.name, "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("Accept failed", "protocol", s.name, "error", err)
			return err
		}

		metrics.ConnectionsTotal.WithLabelValues(s.name).Inc()
		metrics.ConnectionsCurrent.WithLabelValues(s.name).Inc()

		session := newSession(s, conn)
		s.trackSession(session)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackSession(session)
			session.handleConnection()
		}()
	}
}

// Close stops accepting, disconnects every active session and waits for
// the handlers to return.
func (s *POP3Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	for session := range s.sessions {
		session.conn.Close()
	}
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.wg.Wait()
	return err
}

func (s *POP3Server) trackSession(session *POP3Session) {
	s.mu.Lock()
	s.sessions[session] = struct{}{}
	s.mu.Unlock()
}

func (s *POP3Server) untrackSession(session *POP3Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
	metrics.ConnectionsCurrent.WithLabelValues(s.name).Dec()
}
