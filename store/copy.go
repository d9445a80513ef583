package store

import (
	"github.com/emersion/go-imap/v2"
)

// CopyMessages appends copies of the given messages to dst, preserving
// flags and internal dates (plus \Recent on the copies, as for any new
// arrival). Returns the matching source and destination UID sets in
// corresponding order, as needed for a COPYUID response.
func CopyMessages(src, dst *Folder, msgs []NumMessage) (srcUIDs, dstUIDs imap.UIDSet, err error) {
	for _, nm := range msgs {
		flags := src.FlagList(nm.Msg)
		copied, appendErr := dst.Append(nm.Msg.Raw, flags, nm.Msg.InternalDate)
		if appendErr != nil {
			return nil, nil, appendErr
		}
		srcUIDs.AddNum(nm.Msg.UID)
		dstUIDs.AddNum(copied.UID)
	}
	return srcUIDs, dstUIDs, nil
}

// MoveMessages copies the given messages to dst and removes them from src.
// The removal fires the usual expunge fan-out on src.
func MoveMessages(src, dst *Folder, msgs []NumMessage) (srcUIDs, dstUIDs imap.UIDSet, err error) {
	srcUIDs, dstUIDs, err = CopyMessages(src, dst, msgs)
	if err != nil {
		return nil, nil, err
	}

	removed := make([]imap.UID, 0, len(msgs))
	for _, nm := range msgs {
		removed = append(removed, nm.Msg.UID)
	}
	src.RemoveUIDs(removed)
	return srcUIDs, dstUIDs, nil
}
