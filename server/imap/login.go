package imap

import (
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Login(username, password string) error {
	user, err := s.server.store.Authenticate(username, password)
	if err != nil {
		metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "failure").Inc()
		s.Log("authentication failed for %s", username)
		return imapserver.ErrAuthFailed
	}

	metrics.AuthenticationAttempts.WithLabelValues(s.Protocol, "success").Inc()

	s.mutex.Lock()
	s.user = user
	s.Session.User = user
	s.mutex.Unlock()

	s.server.authenticatedConnections.Add(1)
	s.Log("authenticated")
	return nil
}
