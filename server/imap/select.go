package imap

import (
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

func systemFlags() []imap.Flag {
	return []imap.Flag{
		imap.FlagSeen,
		imap.FlagAnswered,
		imap.FlagFlagged,
		imap.FlagDeleted,
		imap.FlagDraft,
	}
}

// permanentFlags is the system set plus \* for arbitrary keywords.
func permanentFlags() []imap.Flag {
	return append(systemFlags(), imap.FlagWildcard)
}

func (s *IMAPSession) Select(mboxName string, options *imap.SelectOptions) (*imap.SelectData, error) {
	start := time.Now()

	user, err := s.ensureAuthenticated()
	if err != nil {
		return nil, err
	}

	folder, err := user.Folder(mboxName)
	if err != nil || folder.IsNoSelect() {
		if err == nil {
			err = consts.ErrMailboxNotFound
		}
		if errors.Is(err, consts.ErrMailboxNotFound) {
			s.DebugLog("SELECT of nonexistent mailbox %q", mboxName)
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Code: imap.ResponseCodeNonExistent,
				Text: fmt.Sprintf("mailbox %q does not exist", mboxName),
			}
		}
		return nil, s.internalError("failed to open mailbox %q: %v", mboxName, err)
	}

	readOnly := options != nil && options.ReadOnly
	summary := folder.Summary()

	s.mutex.Lock()
	s.clearSelectedLocked()
	s.folder = folder
	s.readOnly = readOnly
	s.tracker = folder.NewSessionTracker()
	s.mutex.Unlock()

	// SELECT resets the recent set: the flag is reported once, then cleared
	// so the next session starts fresh. EXAMINE must not touch it.
	if !readOnly {
		folder.ClearRecent()
	}

	s.Log("selected %q messages=%d recent=%d uidnext=%d uidvalidity=%d readonly=%v",
		folder.Name(), summary.NumMessages, summary.NumRecent, summary.UIDNext, summary.UIDValidity, readOnly)
	metrics.TrackCommand(s.Protocol, "SELECT", nil)
	metrics.CommandDuration.WithLabelValues(s.Protocol, "SELECT").Observe(time.Since(start).Seconds())

	return &imap.SelectData{
		Flags:          systemFlags(),
		PermanentFlags: permanentFlags(),
		NumMessages:    summary.NumMessages,
		UIDNext:        summary.UIDNext,
		UIDValidity:    summary.UIDValidity,
	}, nil
}

func (s *IMAPSession) Unselect() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.folder != nil {
		s.DebugLog("unselected %q", s.folder.Name())
	}
	s.clearSelectedLocked()
	return nil
}
