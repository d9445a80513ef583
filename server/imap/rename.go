package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Rename(existingName, newName string, options *imap.RenameOptions) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	err = user.RenameFolder(existingName, newName)
	metrics.TrackCommand(s.Protocol, "RENAME", err)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: fmt.Sprintf("mailbox %q does not exist", existingName),
			}
		}
		if errors.Is(err, consts.ErrMailboxExists) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAlreadyExists,
				Text: fmt.Sprintf("mailbox %q already exists", newName),
			}
		}
		if errors.Is(err, consts.ErrNotPermitted) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: fmt.Sprintf("cannot rename %q to %q", existingName, newName),
			}
		}
		return s.internalError("failed to rename mailbox %q: %v", existingName, err)
	}

	s.Log("renamed mailbox %q to %q", existingName, newName)
	return nil
}
