package imap

import (
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Store(w *imapserver.FetchWriter, numSet imap.NumSet, flags *imap.StoreFlags, options *imap.StoreOptions) error {
	start := time.Now()

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

	_, isUID := numSet.(imap.UIDSet)

	decoded := s.decodeNumSet(folder, tracker, numSet)
	for _, nm := range folder.ResolveNumSet(decoded) {
		// Passing this session's tracker suppresses the unsolicited update
		// to ourselves; the response below is the authoritative one.
		newFlags, seq, ok := folder.UpdateFlags(nm.Msg, flags.Op, flags.Flags, tracker)
		if !ok {
			continue
		}

		if flags.Silent {
			continue
		}

		clientSeq := tracker.EncodeSeqNum(seq)
		if clientSeq == 0 {
			continue
		}
		respWriter := w.CreateMessage(clientSeq)
		if isUID {
			respWriter.WriteUID(nm.Msg.UID)
		}
		respWriter.WriteFlags(newFlags)
		if err := respWriter.Close(); err != nil {
			return err
		}
	}

	metrics.TrackCommand(s.Protocol, "STORE", nil)
	metrics.CommandDuration.WithLabelValues(s.Protocol, "STORE").Observe(time.Since(start).Seconds())
	return nil
}
