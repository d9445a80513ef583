package imap

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/store"
)

func (s *IMAPSession) Status(mboxName string, options *imap.StatusOptions) (*imap.StatusData, error) {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return nil, err
	}

	folder, err := user.Folder(mboxName)
	if err != nil || folder.IsNoSelect() {
		if err == nil || errors.Is(err, consts.ErrMailboxNotFound) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: fmt.Sprintf("mailbox %q does not exist", mboxName),
			}
		}
		return nil, s.internalError("failed to get status of %q: %v", mboxName, err)
	}

	return statusData(folder, options), nil
}

// statusData fills a STATUS response from a folder summary, honoring only
// the requested items. Shared with LIST (RETURN (STATUS ...)).
func statusData(folder *store.Folder, options *imap.StatusOptions) *imap.StatusData {
	summary := folder.Summary()

	data := &imap.StatusData{Mailbox: folder.Name()}
	if options == nil {
		return data
	}

	if options.NumMessages {
		n := summary.NumMessages
		data.NumMessages = &n
	}
	if options.NumUnseen {
		n := summary.NumUnseen
		data.NumUnseen = &n
	}
	if options.NumDeleted {
		n := summary.NumDeleted
		data.NumDeleted = &n
	}
	if options.Size {
		size := summary.TotalSize
		data.Size = &size
	}
	if options.UIDNext {
		data.UIDNext = summary.UIDNext
	}
	if options.UIDValidity {
		data.UIDValidity = summary.UIDValidity
	}

	return data
}
