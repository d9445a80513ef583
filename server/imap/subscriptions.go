package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
)

func (s *IMAPSession) Subscribe(mboxName string) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	if err := user.SubscribeFolder(mboxName); err != nil {
		if errors.Is(err, consts.ErrMailboxNotFound) {
			return &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: fmt.Sprintf("mailbox %q does not exist", mboxName),
			}
		}
		return s.internalError("failed to subscribe to %q: %v", mboxName, err)
	}
	return nil
}

// Unsubscribe succeeds even for mailboxes that no longer exist, so clients
// can clean up stale subscriptions.
func (s *IMAPSession) Unsubscribe(mboxName string) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	if err := user.UnsubscribeFolder(mboxName); err != nil && !errors.Is(err, consts.ErrMailboxNotFound) {
		return s.internalError("failed to unsubscribe from %q: %v", mboxName, err)
	}
	return nil
}
