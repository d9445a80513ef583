package smtp

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/server"
	"github.com/stubmail/stubmail/server/idgen"
)

// SMTPSession is the per-connection backend state: sender, accepted
// recipients, auth. go-smtp serializes calls per connection, so no lock.
type SMTPSession struct {
	*server.Session
	server *SMTPServer
	conn   *gosmtp.Conn

	from  string
	rcpts []string
}

func newSession(s *SMTPServer, conn *gosmtp.Conn) *SMTPSession {
	remoteIP := ""
	if addr := conn.Conn().RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			remoteIP = host
		}
	}

	session := &SMTPSession{
		Session: &server.Session{
			Id:       idgen.New(),
			RemoteIP: remoteIP,
			HostName: s.hostname,
			Protocol: s.name,
		},
		server: s,
		conn:   conn,
	}

	metrics.ConnectionsTotal.WithLabelValues(s.name).Inc()
	metrics.ConnectionsCurrent.WithLabelValues(s.name).Inc()
	session.DebugLog("connected")
	return session
}

// AuthMechanisms advertises AUTH PLAIN and AUTH LOGIN.
func (s *SMTPSession) AuthMechanisms() []string {
	return []string{sasl.Plain, sasl.Login}
}

// Auth returns the SASL server for the requested mechanism. Submission is
// accepted without authentication, matching a sink that exists to receive
// whatever a test sends; AUTH is offered for clients that insist.
func (s *SMTPSession) Auth(mech string) (sasl.Server, error) {
	authenticate := func(username, password string) error {
		user, err := s.server.store.Authenticate(username, password)
		if err != nil {
			metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "failure").Inc()
			s.WarnLog("authentication failed for %s", username)
			return &gosmtp.SMTPError{
				Code:         535,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "success").Inc()
		s.User = user
		s.Log("authenticated")
		return nil
	}

	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return errors.New("identities not supported")
			}
			return authenticate(username, password)
		}), nil
	case sasl.Login:
		return server.NewLoginServer(authenticate), nil
	}
	return nil, gosmtp.ErrAuthUnsupported
}

// Mail handles MAIL FROM.
func (s *SMTPSession) Mail(from string, opts *gosmtp.MailOptions) error {
	s.from = from
	s.DebugLog("MAIL FROM:<%s>", from)
	metrics.TrackCommand(s.Protocol, "MAIL", nil)
	return nil
}

// Rcpt handles RCPT TO with a directory pre-check: unknown recipients are
// rejected here (550) unless auth is disabled, in which case they will be
// provisioned at delivery time.
func (s *SMTPSession) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	if _, err := s.server.pipeline.Resolve(to); err != nil {
		metrics.TrackCommand(s.Protocol, "RCPT", err)
		s.DebugLog("rejecting unknown recipient <%s>", to)
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      fmt.Sprintf("<%s>: Recipient address rejected: User unknown", to),
		}
	}
	s.rcpts = append(s.rcpts, to)
	s.DebugLog("RCPT TO:<%s>", to)
	metrics.TrackCommand(s.Protocol, "RCPT", nil)
	return nil
}

// Data receives the message body. go-smtp has already undone dot-stuffing
// and enforces the SIZE limit (552) while the body is read.
func (s *SMTPSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		metrics.TrackCommand(s.Protocol, "DATA", err)
		return err
	}

	if err := s.server.pipeline.Deliver(s.from, s.rcpts, raw); err != nil {
		metrics.TrackCommand(s.Protocol, "DATA", err)
		s.WarnLog("delivery failed: %v", err)
		if errors.Is(err, consts.ErrUserNotFound) {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "User unknown",
			}
		}
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary delivery failure",
		}
	}

	metrics.TrackCommand(s.Protocol, "DATA", nil)
	s.Log("accepted message from=<%s> rcpts=%d size=%d", s.from, len(s.rcpts), len(raw))
	return nil
}

// Reset handles RSET, clearing the envelope in progress.
func (s *SMTPSession) Reset() {
	s.from = ""
	s.rcpts = nil
}

// Logout runs when the connection ends.
func (s *SMTPSession) Logout() error {
	metrics.ConnectionsCurrent.WithLabelValues(s.Protocol).Dec()
	s.DebugLog("disconnected")
	return nil
}
