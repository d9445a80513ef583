package server

import "github.com/emersion/go-sasl"

// LoginAuthenticator validates a LOGIN username/password pair.
type LoginAuthenticator func(username, password string) error

type loginState int

const (
	loginNotStarted loginState = iota
	loginWaitingUsername
	loginWaitingPassword
)

type loginServer struct {
	state        loginState
	username     string
	authenticate LoginAuthenticator
}

// NewLoginServer returns a server for the obsolete LOGIN mechanism, which
// go-sasl only ships a client for. Older mail libraries still send it, so
// both the SMTP and IMAP frontends keep offering it.
func NewLoginServer(authenticate LoginAuthenticator) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

func (s *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.state {
	case loginNotStarted:
		s.state = loginWaitingUsername
		if response == nil {
			return []byte("Username:"), false, nil
		}
		// An initial response carries the username.
		s.username = string(response)
		s.state = loginWaitingPassword
		return []byte("Password:"), false, nil
	case loginWaitingUsername:
		s.username = string(response)
		s.state = loginWaitingPassword
		return []byte("Password:"), false, nil
	case loginWaitingPassword:
		if err := s.authenticate(s.username, string(response)); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	default:
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
}
