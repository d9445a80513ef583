package imap

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Append(mboxName string, r imap.LiteralReader, options *imap.AppendOptions) (*imap.AppendData, error) {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return nil, err
	}

	folder, err := user.Folder(mboxName)
	if err != nil || folder.IsNoSelect() {
		// The literal must be drained even when the target is rejected.
		io.Copy(io.Discard, r)
		s.DebugLog("APPEND to nonexistent mailbox %q", mboxName)
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeTryCreate,
			Text: fmt.Sprintf("mailbox %q does not exist", mboxName),
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, s.internalError("failed to read message literal: %v", err)
	}

	if s.server.appendLimit > 0 && int64(len(raw)) > s.server.appendLimit {
		s.DebugLog("APPEND of %d bytes exceeds limit %d", len(raw), s.server.appendLimit)
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Code: imap.ResponseCodeTooBig,
			Text: fmt.Sprintf("message size %d bytes exceeds maximum of %d bytes", len(raw), s.server.appendLimit),
		}
	}

	var flags []imap.Flag
	internalDate := time.Now()
	if options != nil {
		flags = options.Flags
		if !options.Time.IsZero() {
			internalDate = options.Time
		}
	}

	msg, err := folder.Append(raw, flags, internalDate)
	metrics.TrackCommand(s.Protocol, "APPEND", err)
	if err != nil {
		if errors.Is(err, consts.ErrMalformedMessage) {
			return nil, &imap.Error{
				Type: imap.StatusResponseTypeNo,
				Text: "malformed message",
			}
		}
		return nil, s.internalError("failed to append to %q: %v", mboxName, err)
	}

	s.Log("appended message uid=%d to %q size=%d", msg.UID, folder.Name(), len(raw))

	return &imap.AppendData{
		UID:         msg.UID,
		UIDValidity: folder.UIDValidity(),
	}, nil
}
