package imap

import (
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
)

// Idle streams untagged updates until the client sends DONE. Without a
// selected mailbox there is nothing to watch; block until DONE as the
// extension requires.
func (s *IMAPSession) Idle(w *imapserver.UpdateWriter, stop <-chan struct{}) error {
	s.mutex.Lock()
	tracker := s.tracker
	s.mutex.Unlock()

	metrics.IdleConnectionsCurrent.Inc()
	defer metrics.IdleConnectionsCurrent.Dec()

	s.DebugLog("IDLE started")
	defer s.DebugLog("IDLE done")

	if tracker == nil {
		<-stop
		return nil
	}
	return tracker.Idle(w, stop)
}
