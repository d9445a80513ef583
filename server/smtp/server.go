// Package smtp implements the SMTP frontend. The wire protocol (EHLO,
// PIPELINING, SIZE, AUTH, STARTTLS, DATA dot-stuffing) is handled by
// emersion/go-smtp; this package supplies the backend that checks
// recipients and hands accepted messages to the delivery pipeline.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/server/delivery"
	"github.com/stubmail/stubmail/store"
)

// DefaultMaxMessageBytes limits DATA payloads when the config does not.
const DefaultMaxMessageBytes = 10 << 20

// SMTPServerOptions configures one SMTP listener.
type SMTPServerOptions struct {
	// Name distinguishes listeners in logs ("SMTP", "SMTPS").
	Name string

	// TLSConfig enables STARTTLS on plaintext listeners and is the
	// connection config for implicit-TLS listeners.
	TLSConfig *tls.Config

	// ImplicitTLS wraps the listener in TLS immediately (SMTPS).
	ImplicitTLS bool

	MaxMessageBytes int64
	Debug           bool
}

// SMTPServer is one SMTP listener bound to the shared store and pipeline.
type SMTPServer struct {
	appCtx   context.Context
	name     string
	hostname string

	store    *store.Store
	pipeline *delivery.Pipeline

	srv         *gosmtp.Server
	implicitTLS bool
	tlsConfig   *tls.Config
}

// New creates an SMTP server. Call Serve with a bound listener to run it.
func New(appCtx context.Context, hostname string, st *store.Store, pipeline *delivery.Pipeline, opts SMTPServerOptions) *SMTPServer {
	name := opts.Name
	if name == "" {
		name = "SMTP"
	}

	s := &SMTPServer{
		appCtx:      appCtx,
		name:        name,
		hostname:    hostname,
		store:       st,
		pipeline:    pipeline,
		implicitTLS: opts.ImplicitTLS,
		tlsConfig:   opts.TLSConfig,
	}

	srv := gosmtp.NewServer(s)
	srv.Domain = hostname
	srv.MaxMessageBytes = opts.MaxMessageBytes
	if srv.MaxMessageBytes == 0 {
		srv.MaxMessageBytes = DefaultMaxMessageBytes
	}
	srv.MaxRecipients = 100
	srv.ReadTimeout = 5 * time.Minute
	srv.WriteTimeout = 1 * time.Minute
	// A test server accepts AUTH without TLS.
	srv.AllowInsecureAuth = true
	if !opts.ImplicitTLS {
		srv.TLSConfig = opts.TLSConfig
	}
	if opts.Debug {
		srv.Debug = os.Stdout
	}
	s.srv = srv

	return s
}

// NewSession implements gosmtp.Backend.
func (s *SMTPServer) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	return newSession(s, conn), nil
}

// Serve accepts connections on l until Close. The listener must already be
// bound; for implicit TLS it is wrapped here.
func (s *SMTPServer) Serve(l net.Listener) error {
	if s.implicitTLS {
		l = tls.NewListener(l, s.tlsConfig)
	}
	logger.Info("Server listening", "protocol", s.name, "addr", l.Addr().String())
	err := s.srv.Serve(l)
	if errors.Is(err, gosmtp.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close shuts the listener and all active sessions down.
func (s *SMTPServer) Close() error {
	return s.srv.Close()
}
