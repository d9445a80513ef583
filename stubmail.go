// Package stubmail is an in-memory mail server for tests: SMTP, IMAP4rev1
// and POP3 (plus their implicit-TLS variants) over one shared message
// store, driven programmatically. Nothing is ever written to disk; every
// Server starts empty.
//
// Typical use:
//
//	cfg := config.NewDefaultConfig()
//	cfg.SMTP = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
//	cfg.IMAP = config.ServerConfig{Start: true, Addr: "127.0.0.1:0"}
//	srv, _ := stubmail.New(cfg)
//	if err := srv.Start(context.Background()); err != nil { ... }
//	defer srv.Stop()
//
//	srv.SetUser("to@example.com", "to", "secret")
//	// ... exercise code that sends mail to srv.Addr("smtp") ...
//	if !srv.WaitForIncomingEmail(5*time.Second, 1) { ... }
package stubmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stubmail/stubmail/config"
	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/server/delivery"
	"github.com/stubmail/stubmail/server/httpapi"
	imapsrv "github.com/stubmail/stubmail/server/imap"
	pop3srv "github.com/stubmail/stubmail/server/pop3"
	smtpsrv "github.com/stubmail/stubmail/server/smtp"
	"github.com/stubmail/stubmail/store"
)

// protoServer is the common surface of the per-protocol servers.
type protoServer interface {
	Serve(l net.Listener) error
	Close() error
}

// Server is the programmatic facade over the store, the delivery pipeline
// and the configured protocol listeners.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	pipeline *delivery.Pipeline

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	servers   []protoServer
	listeners map[string]net.Listener

	selfSignedOnce sync.Once
	selfSigned     tls.Certificate
	selfSignedErr  error
}

// New builds a server from the configuration. Configured users are
// provisioned immediately; listeners are not bound until Start.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if !cfg.AnyServerEnabled() {
		return nil, fmt.Errorf("no listeners enabled in configuration")
	}

	st := store.New(store.Options{
		Hostname:     cfg.GetHostname(),
		AuthDisabled: cfg.Auth.Disabled,
		LoginForm:    cfg.Auth.GetLoginForm(),
	})
	for _, u := range cfg.Auth.Users {
		st.SetUser(u.Email, u.Login, u.Password)
	}

	return &Server{
		cfg:       cfg,
		store:     st,
		pipeline:  delivery.NewPipeline(st),
		listeners: make(map[string]net.Listener),
	}, nil
}

// Start binds every configured listener and begins serving. All binds
// happen synchronously: when Start returns nil, every port accepts
// connections, so a test can connect immediately. Post-start actions
// (folder creation, EML loading) run before Start returns.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server already started")
	}
	if s.stopped {
		return fmt.Errorf("server already stopped")
	}

	serveCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(serveCtx)
	s.cancel = cancel
	s.group = group

	bindErr := s.bindAndServeLocked(serveCtx, group)
	if bindErr != nil {
		s.closeServersLocked()
		cancel()
		return bindErr
	}

	// Tear everything down when the context ends, whether from the caller
	// or from a listener failing.
	go func() {
		<-groupCtx.Done()
		s.mu.Lock()
		s.closeServersLocked()
		s.mu.Unlock()
	}()

	s.started = true

	if err := s.runPostStartActions(); err != nil {
		logger.Warn("Post-start action failed", "error", err)
	}

	return nil
}

func (s *Server) bindAndServeLocked(ctx context.Context, group *errgroup.Group) error {
	hostname := s.cfg.GetHostname()

	for _, ns := range s.cfg.Servers() {
		if !ns.Config.Start {
			continue
		}

		tlsConfig, err := s.listenerTLSConfig(ns.Config)
		if err != nil {
			return fmt.Errorf("%s: %w", ns.Name, err)
		}

		var srv protoServer
		switch ns.Name {
		case "smtp", "smtps":
			srv = smtpsrv.New(ctx, hostname, s.store, s.pipeline, smtpsrv.SMTPServerOptions{
				Name:            protocolLabel(ns.Name),
				TLSConfig:       tlsConfig,
				ImplicitTLS:     ns.Config.TLS,
				MaxMessageBytes: ns.Config.MaxMessageSize,
				Debug:           ns.Config.Debug,
			})
		case "imap", "imaps":
			srv = imapsrv.New(ctx, hostname, s.store, imapsrv.IMAPServerOptions{
				Name:         protocolLabel(ns.Name),
				TLSConfig:    tlsConfig,
				ImplicitTLS:  ns.Config.TLS,
				QuotaEnabled: s.cfg.IMAPOpts.QuotaEnabled,
				Debug:        ns.Config.Debug,
			})
		case "pop3", "pop3s":
			srv = pop3srv.New(ctx, hostname, s.store, pop3srv.POP3ServerOptions{
				Name:        protocolLabel(ns.Name),
				TLSConfig:   tlsConfig,
				ImplicitTLS: ns.Config.TLS,
				Debug:       ns.Config.Debug,
			})
		default:
			return fmt.Errorf("unknown protocol %q", ns.Name)
		}

		if err := s.serveListenerLocked(group, ns.Name, listenAddr(ns.Name, ns.Config), srv); err != nil {
			return err
		}
	}

	if s.cfg.API.Start {
		api := httpapi.New(hostname, s.store, s.pipeline)
		addr := s.cfg.API.Addr
		if addr == "" {
			addr = fmt.Sprintf(":%d", config.DefaultPorts["api"])
		}
		if err := s.serveListenerLocked(group, "api", addr, api); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) serveListenerLocked(group *errgroup.Group, name, addr string, srv protoServer) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s on %s: %w", name, addr, err)
	}
	s.listeners[name] = l
	s.servers = append(s.servers, srv)
	group.Go(func() error {
		return srv.Serve(l)
	})
	return nil
}

// listenerTLSConfig builds the TLS config for one listener: configured
// cert/key files, or a shared self-signed certificate. Plaintext listeners
// also get a config so STARTTLS/STLS can be offered.
func (s *Server) listenerTLSConfig(sc *config.ServerConfig) (*tls.Config, error) {
	if sc.TLSCertFile != "" && sc.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(sc.TLSCertFile, sc.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}

	if sc.TLS && !sc.TLSSelfSigned {
		return nil, fmt.Errorf("TLS enabled but no certificate configured")
	}

	s.selfSignedOnce.Do(func() {
		s.selfSigned, s.selfSignedErr = generateSelfSignedCert(s.cfg.GetHostname())
	})
	if s.selfSignedErr != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", s.selfSignedErr)
	}
	return &tls.Config{Certificates: []tls.Certificate{s.selfSigned}, MinVersion: tls.VersionTLS12}, nil
}

func listenAddr(name string, sc *config.ServerConfig) string {
	if sc.Addr != "" {
		return sc.Addr
	}
	return fmt.Sprintf(":%d", config.DefaultPorts[name])
}

func protocolLabel(name string) string {
	switch name {
	case "smtp":
		return "SMTP"
	case "smtps":
		return "SMTPS"
	case "imap":
		return "IMAP"
	case "imaps":
		return "IMAPS"
	case "pop3":
		return "POP3"
	case "pop3s":
		return "POP3S"
	}
	return name
}

// Stop shuts all listeners and sessions down and waits for the serve
// loops to return. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.closeServersLocked()
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) closeServersLocked() {
	for _, srv := range s.servers {
		srv.Close()
	}
	s.servers = nil
	for _, l := range s.listeners {
		l.Close()
	}
}

// Addr returns the bound address of a protocol listener ("smtp", "imap",
// "pop3s", "api", ...), or "" if it is not running. With port 0 in the
// config this is how tests learn the assigned port.
func (s *Server) Addr(protocol string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[protocol]; ok {
		return l.Addr().String()
	}
	return ""
}

// Store exposes the shared mailbox store for direct inspection.
func (s *Server) Store() *store.Store {
	return s.store
}

// SetUser creates or updates a mail user. See store.Store.SetUser.
func (s *Server) SetUser(email, login, password string) *store.User {
	return s.store.SetUser(email, login, password)
}

// WaitForIncomingEmail blocks until the server has received at least count
// messages in total since startup (or the last purge), or the timeout
// elapses. The count is absolute, not relative to the call.
func (s *Server) WaitForIncomingEmail(timeout time.Duration, count int) bool {
	return s.pipeline.WaitForMessages(timeout, count)
}

// ReceivedMessages returns every message delivered so far, one entry per
// recipient, in delivery order.
func (s *Server) ReceivedMessages() []*delivery.ReceivedMessage {
	return s.pipeline.ReceivedMessages()
}

// ReceivedMessagesForDomain filters ReceivedMessages by recipient domain.
func (s *Server) ReceivedMessagesForDomain(domain string) []*delivery.ReceivedMessage {
	return s.pipeline.ReceivedMessagesForDomain(domain)
}

// Purge deletes all mail from all mailboxes and resets the received-mail
// journal, returning the number of messages removed from mailboxes.
func (s *Server) Purge() int {
	return s.pipeline.Purge()
}
