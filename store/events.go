package store

import "github.com/emersion/go-imap/v2"

// FolderListener observes mutations of a single folder. Callbacks run
// synchronously while the folder lock is held, in listener registration
// order, so a listener sees events in exactly the order they were applied.
// Callbacks must not call back into the folder.
type FolderListener interface {
	// MessageAdded fires after a message has been appended.
	MessageAdded(folder string, seqNum uint32, msg *Message)

	// FlagsUpdated fires after a message's flag set changed. flags is the
	// complete new flag set.
	FlagsUpdated(folder string, seqNum uint32, msg *Message, flags []imap.Flag)

	// MessageExpunged fires after a message has been removed. seqNum is the
	// sequence number the message had at removal time.
	MessageExpunged(folder string, seqNum uint32, uid imap.UID)
}
