package imap

import (
	"context"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	_ "github.com/emersion/go-message/charset"

	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/server"
	"github.com/stubmail/stubmail/store"
)

// IMAPSession is one IMAP connection. The library serializes commands per
// connection; mutex guards the selected-state fields against the Close
// path, which can run concurrently with a command.
type IMAPSession struct {
	*server.Session
	server *IMAPServer
	conn   *imapserver.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mutex sync.Mutex

	user *store.User

	folder   *store.Folder
	readOnly bool
	tracker  *imapserver.SessionTracker
}

func (s *IMAPSession) internalError(format string, a ...interface{}) *imap.Error {
	s.WarnLog(format, a...)
	return &imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeServerBug,
		Text: fmt.Sprintf(format, a...),
	}
}

func (s *IMAPSession) Close() error {
	if s == nil {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	totalCount := s.server.totalConnections.Add(-1)
	metrics.ConnectionsCurrent.WithLabelValues(s.Protocol).Dec()

	if s.user != nil {
		s.server.authenticatedConnections.Add(-1)
		s.DebugLog("closing session (total=%d)", totalCount)
		s.user = nil
		s.Session.User = nil
	} else {
		s.DebugLog("client dropped unauthenticated connection (total=%d)", totalCount)
	}

	s.clearSelectedLocked()

	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *IMAPSession) clearSelectedLocked() {
	if s.tracker != nil {
		s.tracker.Close()
	}
	s.folder = nil
	s.tracker = nil
	s.readOnly = false
}

func (s *IMAPSession) ensureAuthenticated() (*store.User, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.user == nil {
		return nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "Not authenticated",
		}
	}
	return s.user, nil
}

func (s *IMAPSession) ensureSelected() (*store.Folder, *imapserver.SessionTracker, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.folder == nil {
		return nil, nil, &imap.Error{
			Type: imap.StatusResponseTypeNo,
			Text: "No mailbox selected",
		}
	}
	return s.folder, s.tracker, nil
}

func (s *IMAPSession) isReadOnly() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.readOnly
}

// decodeNumSet translates client-view sequence numbers into server-view
// ones through the session tracker, which accounts for expunges this
// session has not yet been told about. UID sets need no translation. A '*'
// endpoint (encoded as 0) resolves against the current message count.
func (s *IMAPSession) decodeNumSet(folder *store.Folder, tracker *imapserver.SessionTracker, numSet imap.NumSet) imap.NumSet {
	seqSet, ok := numSet.(imap.SeqSet)
	if !ok || tracker == nil {
		return numSet
	}

	numMessages := folder.NumMessages()

	var out imap.SeqSet
	for _, r := range seqSet {
		start, stop := r.Start, r.Stop
		if start == 0 {
			start = numMessages
		}
		if stop == 0 {
			stop = numMessages
		}

		decodedStart := tracker.DecodeSeqNum(start)
		decodedStop := tracker.DecodeSeqNum(stop)
		if decodedStart == 0 && r.Start != 0 {
			continue
		}
		if decodedStop == 0 && r.Stop != 0 {
			continue
		}
		out = append(out, imap.SeqRange{Start: decodedStart, Stop: decodedStop})
	}
	return out
}
