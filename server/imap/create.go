package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Create(mboxName string, options *imap.CreateOptions) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	_, err = user.CreateFolder(mboxName)
	metrics.TrackCommand(s.Protocol, "CREATE", err)
	if err != nil {
		if errors.Is(err, consts.ErrMailboxExists) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeAlreadyExists,
				Text: fmt.Sprintf("mailbox %q already exists", mboxName),
			}
		}
		if errors.Is(err, consts.ErrNotPermitted) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: fmt.Sprintf("cannot create mailbox %q", mboxName),
			}
		}
		return s.internalError("failed to create mailbox %q: %v", mboxName, err)
	}

	s.Log("created mailbox %q", mboxName)
	return nil
}
