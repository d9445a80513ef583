package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Delete(mboxName string) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	// Deleting the selected mailbox drops the selection first.
	s.mutex.Lock()
	if s.folder != nil && s.folder.User() == user && s.folder.Name() == mboxName {
		s.clearSelectedLocked()
	}
	s.mutex.Unlock()

	err = user.DeleteFolder(mboxName)
	metrics.TrackCommand(s.Protocol, "DELETE", err)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: fmt.Sprintf("mailbox %q does not exist", mboxName),
			}
		}
		if errors.Is(err, consts.ErrNotPermitted) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: fmt.Sprintf("cannot delete mailbox %q", mboxName),
			}
		}
		return s.internalError("failed to delete mailbox %q: %v", mboxName, err)
	}

	s.Log("deleted mailbox %q", mboxName)
	return nil
}
