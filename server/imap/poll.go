package imap

import (
	"github.com/emersion/go-imap/v2/imapserver"
)

// Poll flushes pending untagged updates for this session. The library
// calls this after every command (and for NOOP/CHECK), with allowExpunge
// cleared for commands where RFC 3501 forbids EXPUNGE responses.
func (s *IMAPSession) Poll(w *imapserver.UpdateWriter, allowExpunge bool) error {
	s.mutex.Lock()
	tracker := s.tracker
	s.mutex.Unlock()

	if tracker == nil {
		return nil
	}
	return tracker.Poll(w, allowExpunge)
}
