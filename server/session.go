// Package server holds the pieces shared by every protocol frontend: the
// base session with its structured log helpers and the session ID
// generator.
package server

import (
	"fmt"

	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/store"
)

// Session is embedded by the per-protocol sessions and carries the
// identity used in every log line.
type Session struct {
	Id       string
	RemoteIP string
	HostName string
	Protocol string
	User     *store.User // nil until authenticated
}

func (s *Session) userLabel() string {
	if s.User == nil {
		return "none"
	}
	return s.User.Email()
}

func (s *Session) Log(format string, args ...any) {
	logger.Info("Session",
		"protocol", s.Protocol,
		"remote", s.RemoteIP,
		"user", s.userLabel(),
		"session", s.Id,
		"msg", fmt.Sprintf(format, args...))
}

func (s *Session) DebugLog(format string, args ...any) {
	logger.Debug("Session",
		"protocol", s.Protocol,
		"remote", s.RemoteIP,
		"user", s.userLabel(),
		"session", s.Id,
		"msg", fmt.Sprintf(format, args...))
}

func (s *Session) WarnLog(format string, args ...any) {
	logger.Warn("Session",
		"protocol", s.Protocol,
		"remote", s.RemoteIP,
		"user", s.userLabel(),
		"session", s.Id,
		"msg", fmt.Sprintf(format, args...))
}
