package imap

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
)

// Expunge removes \Deleted messages, optionally restricted to a UID set
// (UID EXPUNGE). The EXPUNGE responses are not written here: the folder
// tracker queues one per removed message for every session, including this
// one, and the library drains them right after the command.
func (s *IMAPSession) Expunge(w *imapserver.ExpungeWriter, uids *imap.UIDSet) error {
	folder, _, err := s.ensureSelected()
	if err != nil {
		return err
	}
	if s.isReadOnly() {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Mailbox is read-only",
		}
	}

	expunged := folder.Expunge(uids)
	metrics.TrackCommand(s.Protocol, "EXPUNGE", nil)
	if len(expunged) > 0 {
		s.Log("expunged %d messages from %q", len(expunged), folder.Name())
	}
	return nil
}
