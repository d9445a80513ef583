package imap

import (
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-sasl"

	"github.com/stubmail/stubmail/server"
)

// AuthenticateMechanisms implements imapserver.SessionSASL.
func (s *IMAPSession) AuthenticateMechanisms() []string {
	return []string{sasl.Plain, sasl.Login}
}

// Authenticate implements imapserver.SessionSASL.
func (s *IMAPSession) Authenticate(mech string) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			if identity != "" && identity != username {
				return imapserver.ErrAuthFailed
			}
			return s.Login(username, password)
		}), nil
	case sasl.Login:
		return server.NewLoginServer(func(username, password string) error {
			return s.Login(username, password)
		}), nil
	}
	return nil, imapserver.ErrAuthFailed
}
