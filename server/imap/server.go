// Package imap implements the IMAP4rev1 frontend. Protocol parsing and
// response encoding are handled by emersion/go-imap/v2's imapserver; this
// package supplies the per-connection Session bound to the shared
// in-memory store. Untagged EXISTS/EXPUNGE/FETCH updates fan out through
// the per-folder MailboxTracker, which the library drains after every
// command and during IDLE.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-sasl"

	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/server"
	"github.com/stubmail/stubmail/server/idgen"
	"github.com/stubmail/stubmail/store"
)

const DefaultAppendLimit = 25 * 1024 * 1024 // 25MB

// IMAPServerOptions configures one IMAP listener.
type IMAPServerOptions struct {
	// Name distinguishes listeners in logs ("IMAP", "IMAPS").
	Name string

	// TLSConfig enables STARTTLS on plaintext listeners and is the
	// connection config for implicit-TLS listeners.
	TLSConfig *tls.Config

	// ImplicitTLS wraps the listener in TLS immediately (IMAPS).
	ImplicitTLS bool

	// QuotaEnabled advertises the QUOTA capability.
	QuotaEnabled bool

	AppendLimit int64
	Debug       bool
}

// IMAPServer is one IMAP listener bound to the shared store.
type IMAPServer struct {
	appCtx   context.Context
	name     string
	hostname string

	store  *store.Store
	server *imapserver.Server

	caps        imap.CapSet
	tlsConfig   *tls.Config
	implicitTLS bool
	appendLimit int64

	closed atomic.Bool

	totalConnections         atomic.Int64
	authenticatedConnections atomic.Int64
}

// New creates an IMAP server. Call Serve with a bound listener to run it.
func New(appCtx context.Context, hostname string, st *store.Store, opts IMAPServerOptions) *IMAPServer {
	name := opts.Name
	if name == "" {
		name = "IMAP"
	}

	s := &IMAPServer{
		appCtx:      appCtx,
		name:        name,
		hostname:    hostname,
		store:       st,
		tlsConfig:   opts.TLSConfig,
		implicitTLS: opts.ImplicitTLS,
		appendLimit: opts.AppendLimit,
		caps: imap.CapSet{
			imap.CapIMAP4rev1:   {},
			imap.CapLiteralPlus: {},
			imap.CapSASLIR:      {},

			imap.AuthCap(sasl.Plain): {},
			imap.AuthCap(sasl.Login): {},

			imap.CapIdle:        {},
			imap.CapUIDPlus:     {},
			imap.CapMove:        {},
			imap.CapNamespace:   {},
			imap.CapChildren:    {},
			imap.CapUnselect:    {},
		},
	}

	if s.appendLimit == 0 {
		s.appendLimit = DefaultAppendLimit
	}
	s.caps[imap.Cap(fmt.Sprintf("APPENDLIMIT=%d", s.appendLimit))] = struct{}{}

	if opts.QuotaEnabled {
		s.caps[imap.CapQuota] = struct{}{}
	}

	var debugWriter io.Writer
	if opts.Debug {
		debugWriter = os.Stdout
	}

	var startTLS *tls.Config
	if !opts.ImplicitTLS {
		startTLS = opts.TLSConfig
	}

	s.server = imapserver.New(&imapserver.Options{
		NewSession: s.newSession,
		// A test server accepts LOGIN without TLS.
		InsecureAuth: true,
		DebugWriter:  debugWriter,
		Caps:         s.caps,
		TLSConfig:    startTLS,
	})

	return s
}

func (s *IMAPServer) newSession(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
	totalCount := s.totalConnections.Add(1)
	metrics.ConnectionsTotal.WithLabelValues(s.name).Inc()
	metrics.ConnectionsCurrent.WithLabelValues(s.name).Inc()

	sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

	remoteIP := ""
	if addr := conn.NetConn().RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			remoteIP = host
		}
	}

	session := &IMAPSession{
		Session: &server.Session{
			Id:       idgen.New(),
			RemoteIP: remoteIP,
			HostName: s.hostname,
			Protocol: s.name,
		},
		server: s,
		conn:   conn,
		ctx:    sessionCtx,
		cancel: sessionCancel,
	}

	session.DebugLog("connected (total=%d)", totalCount)

	return session, &imapserver.GreetingData{PreAuth: false}, nil
}

// Serve accepts connections on l until Close. The listener must already be
// bound; for implicit TLS it is wrapped here.
func (s *IMAPServer) Serve(l net.Listener) error {
	if s.implicitTLS {
		l = tls.NewListener(l, s.tlsConfig)
	}
	logger.Info("Server listening", "protocol", s.name, "addr", l.Addr().String())
	err := s.server.Serve(l)
	// imapserver reports its own Close with an unexported error, so an
	// intentional shutdown is tracked with a flag instead.
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close shuts the listener down and starts closing active connections.
func (s *IMAPServer) Close() error {
	if s.server == nil {
		return nil
	}
	s.closed.Store(true)
	return s.server.Close()
}
