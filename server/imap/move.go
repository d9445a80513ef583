package imap

import (
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/store"
)

// Move implements imapserver.SessionMove (RFC 6851). The COPYUID data is
// written here; the EXPUNGE responses for the moved messages reach this
// session through the tracker drain after the command, like any other
// expunge.
func (s *IMAPSession) Move(w *imapserver.MoveWriter, numSet imap.NumSet, destName string) error {
	folder, tracker, err := s.ensureSelected()
	if err != nil {
		return err
	}
	if s.isReadOnly() {
		return &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Mailbox is read-only",
		}
	}

	dest, err := s.destinationFolder(destName)
	if err != nil {
		return err
	}

	items := folder.ResolveNumSet(s.decodeNumSet(folder, tracker, numSet))
	if len(items) == 0 {
		return nil
	}

	srcUIDs, dstUIDs, err := store.MoveMessages(folder, dest, items)
	metrics.TrackCommand(s.Protocol, "MOVE", err)
	if err != nil {
		return s.internalError("failed to move to %q: %v", destName, err)
	}

	s.Log("moved %d messages from %q to %q", len(items), folder.Name(), dest.Name())

	return w.WriteCopyData(&imap.CopyData{
		UIDValidity: dest.UIDValidity(),
		SourceUIDs:  srcUIDs,
		DestUIDs:    dstUIDs,
	})
}
