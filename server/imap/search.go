package imap

import (
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/pkg/metrics"
)

func (s *IMAPSession) Search(kind imapserver.NumKind, criteria *imap.SearchCriteria, options *imap.SearchOptions) (*imap.SearchData, error) {
	start := time.Now()

	folder, tracker, err := s.ensureSelected()
	if err != nil {
		return nil, err
	}

	results := folder.Search(criteria)

	data := &imap.SearchData{
		Count: uint32(len(results)),
	}

	switch kind {
	case imapserver.NumKindUID:
		var all imap.UIDSet
		for _, nm := range results {
			all.AddNum(nm.Msg.UID)
			uid := uint32(nm.Msg.UID)
			if data.Min == 0 || uid < data.Min {
				data.Min = uid
			}
			if uid > data.Max {
				data.Max = uid
			}
		}
		data.All = all
	default:
		var all imap.SeqSet
		for _, nm := range results {
			seq := tracker.EncodeSeqNum(nm.Seq)
			if seq == 0 {
				continue
			}
			all.AddNum(seq)
			if data.Min == 0 || seq < data.Min {
				data.Min = seq
			}
			if seq > data.Max {
				data.Max = seq
			}
		}
		data.All = all
	}

	metrics.TrackCommand(s.Protocol, "SEARCH", nil)
	metrics.CommandDuration.WithLabelValues(s.Protocol, "SEARCH").Observe(time.Since(start).Seconds())
	s.DebugLog("search matched %d of %d messages", len(results), folder.NumMessages())

	return data, nil
}
