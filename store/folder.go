package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

// Folder is one mailbox in a user's namespace. Message order is arrival
// order; a message's sequence number is its 1-based position and is
// renumbered on expunge. All message-level state is guarded by mu.
//
// Every mutation is forwarded to the folder's MailboxTracker (which fans
// out EXISTS/EXPUNGE/FETCH updates to IMAP sessions) and to the registered
// FolderListeners, in both cases while mu is still held, so observers see
// mutations in application order.
type Folder struct {
	user *User
	name string

	mu          sync.Mutex
	uidValidity uint32
	uidNext     imap.UID
	messages    []*Message
	subscribed  bool
	noselect    bool

	tracker *imapserver.MailboxTracker

	listenerSeq int64
	listeners   []folderListenerReg
}

type folderListenerReg struct {
	id       int64
	listener FolderListener
}

// NumMessage pairs a message with the sequence number it had when the
// snapshot was taken.
type NumMessage struct {
	Seq uint32
	Msg *Message
}

// FolderSummary is a point-in-time set of counters for SELECT and STATUS.
type FolderSummary struct {
	NumMessages uint32
	NumRecent   uint32
	NumUnseen   uint32
	NumDeleted  uint32
	UIDNext     imap.UID
	UIDValidity uint32
	TotalSize   int64
}

func newFolder(user *User, name string, uidValidity uint32) *Folder {
	return &Folder{
		user:        user,
		name:        name,
		uidValidity: uidValidity,
		uidNext:     1,
		subscribed:  strings.EqualFold(name, consts.MailboxInbox),
		tracker:     imapserver.NewMailboxTracker(0),
	}
}

// Name returns the full hierarchical folder name.
func (f *Folder) Name() string { return f.name }

// User returns the owning user.
func (f *Folder) User() *User { return f.user }

// UIDValidity returns the folder's UIDVALIDITY. Stable for the lifetime of
// the folder; a recreated folder of the same name gets a strictly greater
// value.
func (f *Folder) UIDValidity() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidValidity
}

// UIDNext returns the UID the next appended message will get.
func (f *Folder) UIDNext() imap.UID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidNext
}

// NumMessages returns the current message count.
func (f *Folder) NumMessages() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint32(len(f.messages))
}

// IsSubscribed reports the folder's subscription state.
func (f *Folder) IsSubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

// SetSubscribed updates the subscription state.
func (f *Folder) SetSubscribed(subscribed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = subscribed
}

// IsNoSelect reports whether the folder only exists as a hierarchy
// placeholder after a DELETE that had to keep inferiors alive.
func (f *Folder) IsNoSelect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noselect
}

// Summary returns the folder's counters in one consistent snapshot.
func (f *Folder) Summary() FolderSummary {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := FolderSummary{
		NumMessages: uint32(len(f.messages)),
		UIDNext:     f.uidNext,
		UIDValidity: f.uidValidity,
	}
	for _, m := range f.messages {
		if m.hasFlag(FlagRecent) {
			s.NumRecent++
		}
		if !m.hasFlag(imap.FlagSeen) {
			s.NumUnseen++
		}
		if m.hasFlag(imap.FlagDeleted) {
			s.NumDeleted++
		}
		s.TotalSize += m.Size()
	}
	return s
}

// Append stores a new message and returns it. The \Recent flag is always
// added; client-supplied flags and internal date are honored (APPEND).
func (f *Folder) Append(raw []byte, flags []imap.Flag, internalDate time.Time) (*Message, error) {
	if f.IsNoSelect() {
		return nil, consts.ErrMailboxNotFound
	}
	msg := newMessage(raw, internalDate, flags)
	msg.flags[FlagRecent] = struct{}{}

	f.mu.Lock()
	defer f.mu.Unlock()

	msg.UID = f.uidNext
	f.uidNext++
	f.messages = append(f.messages, msg)

	seq := uint32(len(f.messages))
	f.tracker.QueueNumMessages(seq)
	for _, reg := range f.listeners {
		reg.listener.MessageAdded(f.name, seq, msg)
	}

	metrics.MessagesDelivered.Inc()
	metrics.MessageSizeBytes.Observe(float64(msg.Size()))

	return msg, nil
}

// Snapshot returns the messages in sequence order. The slice is a copy;
// the messages are shared.
func (f *Folder) Snapshot() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// ResolveNumSet maps a sequence or UID set onto the current messages.
// Sequence numbers outside the range are ignored, as are unknown UIDs.
func (f *Folder) ResolveNumSet(numSet imap.NumSet) []NumMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveNumSetLocked(numSet)
}

func (f *Folder) resolveNumSetLocked(numSet imap.NumSet) []NumMessage {
	var out []NumMessage
	switch set := numSet.(type) {
	case imap.SeqSet:
		for i, m := range f.messages {
			seq := uint32(i + 1)
			if set.Contains(seq) {
				out = append(out, NumMessage{Seq: seq, Msg: m})
			}
		}
	case imap.UIDSet:
		for i, m := range f.messages {
			if set.Contains(m.UID) {
				out = append(out, NumMessage{Seq: uint32(i + 1), Msg: m})
			}
		}
	}
	return out
}

// FlagList returns a copy of a message's current flags.
func (f *Folder) FlagList(msg *Message) []imap.Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return msg.flagList()
}

// UpdateFlags applies a STORE operation to one message and returns the
// complete new flag set plus the message's current sequence number. The
// update is queued on the mailbox tracker with the given source session so
// the initiating session does not receive its own unsolicited FETCH.
// \Recent cannot be changed by STORE.
func (f *Folder) UpdateFlags(msg *Message, op imap.StoreFlagsOp, flags []imap.Flag, source *imapserver.SessionTracker) ([]imap.Flag, uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seq := f.seqOfLocked(msg)
	if seq == 0 {
		return nil, 0, false
	}

	recent := msg.hasFlag(FlagRecent)
	switch op {
	case imap.StoreFlagsSet:
		msg.flags = make(map[imap.Flag]struct{}, len(flags)+1)
		for _, fl := range flags {
			if !flagEqual(fl, FlagRecent) {
				msg.flags[canonicalFlag(fl)] = struct{}{}
			}
		}
		if recent {
			msg.flags[FlagRecent] = struct{}{}
		}
	case imap.StoreFlagsAdd:
		for _, fl := range flags {
			if !flagEqual(fl, FlagRecent) {
				msg.flags[canonicalFlag(fl)] = struct{}{}
			}
		}
	case imap.StoreFlagsDel:
		for _, fl := range flags {
			if !flagEqual(fl, FlagRecent) {
				delete(msg.flags, canonicalFlag(fl))
			}
		}
	}

	newFlags := msg.flagList()
	f.tracker.QueueMessageFlags(seq, msg.UID, newFlags, source)
	for _, reg := range f.listeners {
		reg.listener.FlagsUpdated(f.name, seq, msg, newFlags)
	}
	return newFlags, seq, true
}

// MarkSeen adds \Seen to a message if it is not already set, returning the
// new flag set and whether a change happened. Used by non-peek FETCH body
// reads.
func (f *Folder) MarkSeen(msg *Message, source *imapserver.SessionTracker) ([]imap.Flag, bool) {
	f.mu.Lock()
	already := msg.hasFlag(imap.FlagSeen)
	f.mu.Unlock()
	if already {
		return nil, false
	}
	newFlags, _, ok := f.UpdateFlags(msg, imap.StoreFlagsAdd, []imap.Flag{imap.FlagSeen}, source)
	return newFlags, ok
}

// ClearRecent drops \Recent from every message. Called by the first
// read-write SELECT after the flag has been reported, per RFC 3501. The
// clear is not broadcast: \Recent is session-visible state, not a flag
// mutation other sessions track.
func (f *Folder) ClearRecent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		delete(m.flags, FlagRecent)
	}
}

// Expunge removes every message flagged \Deleted, optionally restricted to
// a UID set (UID EXPUNGE). Removed sequence numbers are returned in the
// order they were reported: descending, so earlier EXPUNGE responses do not
// shift the later ones.
func (f *Folder) Expunge(uids *imap.UIDSet) []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var targets []imap.UID
	for _, m := range f.messages {
		if !m.hasFlag(imap.FlagDeleted) {
			continue
		}
		if uids != nil && !uids.Contains(m.UID) {
			continue
		}
		targets = append(targets, m.UID)
	}
	return f.removeUIDsLocked(targets)
}

// RemoveUIDs removes the given UIDs outright, regardless of \Deleted. This
// is the POP3 UPDATE path and the HTTP purge path. Unknown UIDs are
// ignored. Returns the number of messages removed.
func (f *Folder) RemoveUIDs(uids []imap.UID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removeUIDsLocked(uids))
}

// PurgeAll removes every message in the folder.
func (f *Folder) PurgeAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	uids := make([]imap.UID, len(f.messages))
	for i, m := range f.messages {
		uids[i] = m.UID
	}
	return len(f.removeUIDsLocked(uids))
}

// removeUIDsLocked removes messages by UID and reports expunges in
// descending sequence order to the tracker and the listeners.
func (f *Folder) removeUIDsLocked(uids []imap.UID) []uint32 {
	if len(uids) == 0 {
		return nil
	}

	want := make(map[imap.UID]struct{}, len(uids))
	for _, uid := range uids {
		want[uid] = struct{}{}
	}

	type victim struct {
		seq uint32
		uid imap.UID
	}
	var victims []victim
	var kept []*Message
	for i, m := range f.messages {
		if _, ok := want[m.UID]; ok {
			victims = append(victims, victim{seq: uint32(i + 1), uid: m.UID})
		} else {
			kept = append(kept, m)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	f.messages = kept

	sort.Slice(victims, func(i, j int) bool { return victims[i].seq > victims[j].seq })

	seqs := make([]uint32, 0, len(victims))
	for _, v := range victims {
		f.tracker.QueueExpunge(v.seq)
		for _, reg := range f.listeners {
			reg.listener.MessageExpunged(f.name, v.seq, v.uid)
		}
		seqs = append(seqs, v.seq)
	}
	return seqs
}

// seqOfLocked returns the 1-based sequence number of msg, or 0 when the
// message is no longer in the folder.
func (f *Folder) seqOfLocked(msg *Message) uint32 {
	for i, m := range f.messages {
		if m == msg {
			return uint32(i + 1)
		}
	}
	return 0
}

// NewSessionTracker attaches a new IMAP session view to this folder.
func (f *Folder) NewSessionTracker() *imapserver.SessionTracker {
	return f.tracker.NewSession()
}

// AddListener registers a FolderListener and returns a token for
// RemoveListener. Listeners are notified in registration order.
func (f *Folder) AddListener(l FolderListener) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listenerSeq++
	f.listeners = append(f.listeners, folderListenerReg{id: f.listenerSeq, listener: l})
	return f.listenerSeq
}

// RemoveListener unregisters a listener by token. Unknown tokens are a
// no-op, so callers can defer removal unconditionally.
func (f *Folder) RemoveListener(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, reg := range f.listeners {
		if reg.id == id {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

// setNoSelect empties the folder and turns it into a hierarchy
// placeholder. Caller must hold the store directory lock.
func (f *Folder) setNoSelect() {
	f.PurgeAll()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noselect = true
}

// moveMessagesTo transfers all messages to dst preserving flags and
// internal dates, assigning fresh UIDs in dst. Used by RENAME INBOX
// semantics.
func (f *Folder) moveMessagesTo(dst *Folder) {
	type item struct {
		raw   []byte
		flags []imap.Flag
		date  time.Time
		uid   imap.UID
	}

	f.mu.Lock()
	items := make([]item, 0, len(f.messages))
	for _, m := range f.messages {
		items = append(items, item{raw: m.Raw, flags: m.flagList(), date: m.InternalDate, uid: m.UID})
	}
	f.mu.Unlock()

	uids := make([]imap.UID, 0, len(items))
	for _, it := range items {
		dst.Append(it.raw, it.flags, it.date)
		uids = append(uids, it.uid)
	}
	f.RemoveUIDs(uids)
}
