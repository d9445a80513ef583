package imap

import (
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/store"
)

func (s *IMAPSession) Copy(numSet imap.NumSet, destName string) (*imap.CopyData, error) {
	folder, tracker, err := s.ensureSelected()
	if err != nil {
		return nil, err
	}

	dest, err := s.destinationFolder(destName)
	if err != nil {
		return nil, err
	}

	items := folder.ResolveNumSet(s.decodeNumSet(folder, tracker, numSet))
	if len(items) == 0 {
		return &imap.CopyData{UIDValidity: dest.UIDValidity()}, nil
	}

	srcUIDs, dstUIDs, err := store.CopyMessages(folder, dest, items)
	metrics.TrackCommand(s.Protocol, "COPY", err)
	if err != nil {
		return nil, s.internalError("failed to copy to %q: %v", destName, err)
	}

	s.Log("copied %d messages from %q to %q", len(items), folder.Name(), dest.Name())

	return &imap.CopyData{
		UIDValidity: dest.UIDValidity(),
		SourceUIDs:  srcUIDs,
		DestUIDs:    dstUIDs,
	}, nil
}

// destinationFolder resolves a COPY/MOVE target, reporting TRYCREATE for
// missing mailboxes as RFC 3501 suggests.
func (s *IMAPSession) destinationFolder(destName string) (*store.Folder, error) {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return nil, err
	}

	dest, err := user.Folder(destName)
	if err != nil || dest.IsNoSelect() {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeTryCreate,
			Text: fmt.Sprintf("mailbox %q does not exist", destName),
		}
	}
	return dest, nil
}
