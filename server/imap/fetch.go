package imap

import (
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
	"github.com/stubmail/stubmail/store"
)

// wantsSeen reports whether the FETCH fetches body content in a way that
// must set \Seen (any BODY[...] without .PEEK).
func wantsSeen(options *imap.FetchOptions) bool {
	for _, section := range options.BodySection {
		if !section.Peek {
			return true
		}
	}
	return false
}

func (s *IMAPSession) Fetch(w *imapserver.FetchWriter, numSet imap.NumSet, options *imap.FetchOptions) error {
	start := time.Now()
	var cmdErr error
	defer func() {
		metrics.TrackCommand(s.Protocol, "FETCH", cmdErr)
		metrics.CommandDuration.WithLabelValues(s.Protocol, "FETCH").Observe(time.Since(start).Seconds())
	}()

	folder, tracker, err := s.ensureSelected()
	if err != nil {
		cmdErr = err
		return err
	}

	markSeen := wantsSeen(options) && !s.isReadOnly()

	decoded := s.decodeNumSet(folder, tracker, numSet)
	for _, nm := range folder.ResolveNumSet(decoded) {
		if err := s.fetchMessage(w, folder, tracker, nm, options, markSeen); err != nil {
			cmdErr = err
			return err
		}
	}
	return nil
}

func (s *IMAPSession) fetchMessage(w *imapserver.FetchWriter, folder *store.Folder, tracker *imapserver.SessionTracker, nm store.NumMessage, options *imap.FetchOptions, markSeen bool) error {
	msg := nm.Msg

	flags := folder.FlagList(msg)
	flagsChanged := false
	if markSeen {
		if newFlags, changed := folder.MarkSeen(msg, tracker); changed {
			flags = newFlags
			flagsChanged = true
		}
	}

	seq := tracker.EncodeSeqNum(nm.Seq)
	if seq == 0 {
		// Expunged in this session's view; nothing to report.
		return nil
	}

	respWriter := w.CreateMessage(seq)

	if options.UID {
		respWriter.WriteUID(msg.UID)
	}
	// An implicit \Seen change rides along as FLAGS in the same response.
	if options.Flags || flagsChanged {
		respWriter.WriteFlags(flags)
	}
	if options.InternalDate {
		respWriter.WriteInternalDate(msg.InternalDate)
	}
	if options.RFC822Size {
		respWriter.WriteRFC822Size(msg.Size())
	}
	if options.Envelope {
		respWriter.WriteEnvelope(msg.Envelope())
	}
	if options.BodyStructure != nil {
		respWriter.WriteBodyStructure(msg.BodyStructure())
	}

	for _, section := range options.BodySection {
		// BodySection already applies the <p.n> partial window.
		b := msg.BodySection(section)
		sectionWriter := respWriter.WriteBodySection(section, int64(len(b)))
		_, writeErr := sectionWriter.Write(b)
		closeErr := sectionWriter.Close()
		if writeErr != nil {
			return writeErr
		}
		if closeErr != nil {
			return closeErr
		}
	}

	return respWriter.Close()
}
