package store

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubmail/stubmail/consts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(Options{Hostname: "localhost"})
}

func sampleMessage(subject string) []byte {
	return []byte("From: from@example.com\r\n" +
		"To: to@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + subject + "@example.com>\r\n" +
		"Date: Mon, 10 Mar 2025 10:00:00 +0000\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n")
}

func TestSetUserDerivesFields(t *testing.T) {
	st := newTestStore(t)

	u := st.SetUser("to@example.com", "", "secret")
	assert.Equal(t, "to@example.com", u.Email())
	assert.Equal(t, "to", u.Login())
	assert.Equal(t, "secret", u.Password())

	// Login-only users get an email on the store hostname.
	u2 := st.SetUser("", "bob", "pwd")
	assert.Equal(t, "bob@localhost", u2.Email())

	// Setting an existing user again updates the password in place.
	again := st.SetUser("to@example.com", "to", "changed")
	assert.Same(t, u, again)
	assert.Equal(t, "changed", u.Password())
}

func TestUserLookupIsCaseInsensitive(t *testing.T) {
	st := newTestStore(t)
	st.SetUser("to@example.com", "To", "secret")

	u, err := st.User("to")
	require.NoError(t, err)
	assert.Equal(t, "to@example.com", u.Email())

	u, err = st.User("TO")
	require.NoError(t, err)
	assert.Equal(t, "to@example.com", u.Email())

	_, err = st.User("nobody")
	assert.ErrorIs(t, err, consts.ErrUserNotFound)
}

func TestAuthenticate(t *testing.T) {
	st := newTestStore(t)
	st.SetUser("to@example.com", "to", "secret")

	u, err := st.Authenticate("to", "secret")
	require.NoError(t, err)
	assert.Equal(t, "to", u.Login())

	_, err = st.Authenticate("to", "wrong")
	assert.ErrorIs(t, err, consts.ErrAuthFailed)

	_, err = st.Authenticate("nobody", "x")
	assert.ErrorIs(t, err, consts.ErrAuthFailed)
}

func TestAuthenticateDisabledAutoProvisions(t *testing.T) {
	st := New(Options{Hostname: "localhost", AuthDisabled: true})

	u, err := st.Authenticate("fresh", "any password at all")
	require.NoError(t, err)
	assert.Equal(t, "fresh@localhost", u.Email())

	// Same login with a different password still works and is the same user.
	u2, err := st.Authenticate("fresh", "different")
	require.NoError(t, err)
	assert.Same(t, u, u2)
}

func TestResolveRecipient(t *testing.T) {
	st := newTestStore(t)
	st.SetUser("to@example.com", "to", "secret")

	for _, addr := range []string{"to@example.com", "<to@example.com>", "to"} {
		u, err := st.ResolveRecipient(addr)
		require.NoError(t, err, "addr %q", addr)
		assert.Equal(t, "to@example.com", u.Email())
	}

	_, err := st.ResolveRecipient("stranger@example.com")
	assert.ErrorIs(t, err, consts.ErrUserNotFound)
}

func TestCreateFolderCreatesParents(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	_, err := u.CreateFolder("archive/2025/march")
	require.NoError(t, err)

	for _, name := range []string{"archive", "archive/2025", "archive/2025/march"} {
		_, err := u.Folder(name)
		assert.NoError(t, err, "folder %q", name)
	}

	_, err = u.CreateFolder("archive/2025/march")
	assert.ErrorIs(t, err, consts.ErrMailboxExists)
}

func TestDeleteFolder(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	assert.ErrorIs(t, u.DeleteFolder("INBOX"), consts.ErrNotPermitted)

	_, err := u.CreateFolder("work/projects")
	require.NoError(t, err)

	// A folder with inferiors becomes \Noselect instead of disappearing.
	require.NoError(t, u.DeleteFolder("work"))
	f, err := u.Folder("work")
	require.NoError(t, err)
	assert.True(t, f.IsNoSelect())

	// Without inferiors it is removed for real.
	require.NoError(t, u.DeleteFolder("work/projects"))
	_, err = u.Folder("work/projects")
	assert.ErrorIs(t, err, consts.ErrMailboxNotFound)
}

func TestRecreatedFolderGetsNewUIDValidity(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	f1, err := u.CreateFolder("tmp")
	require.NoError(t, err)
	v1 := f1.UIDValidity()

	require.NoError(t, u.DeleteFolder("tmp"))
	f2, err := u.CreateFolder("tmp")
	require.NoError(t, err)

	assert.Greater(t, f2.UIDValidity(), v1)
}

func TestRenameFolderSubtree(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	_, err := u.CreateFolder("old/sub")
	require.NoError(t, err)

	require.NoError(t, u.RenameFolder("old", "new"))

	_, err = u.Folder("new")
	assert.NoError(t, err)
	_, err = u.Folder("new/sub")
	assert.NoError(t, err)
	_, err = u.Folder("old")
	assert.ErrorIs(t, err, consts.ErrMailboxNotFound)
}

func TestRenameInboxMovesMessages(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	inbox := u.Inbox()
	_, err := inbox.Append(sampleMessage("one"), nil, time.Now())
	require.NoError(t, err)

	// RENAME INBOX moves the messages out but INBOX itself survives empty.
	require.NoError(t, u.RenameFolder("INBOX", "saved"))

	saved, err := u.Folder("saved")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), saved.NumMessages())
	assert.Equal(t, uint32(0), u.Inbox().NumMessages())
}

func TestAppendAssignsMonotonicUIDs(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	m1, err := inbox.Append(sampleMessage("one"), nil, time.Now())
	require.NoError(t, err)
	m2, err := inbox.Append(sampleMessage("two"), nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, imap.UID(1), m1.UID)
	assert.Equal(t, imap.UID(2), m2.UID)
	assert.Equal(t, imap.UID(3), inbox.UIDNext())

	// New arrivals carry \Recent.
	assert.Contains(t, inbox.FlagList(m1), FlagRecent)
}

func TestUIDsNotReusedAfterExpunge(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	m1, _ := inbox.Append(sampleMessage("one"), nil, time.Now())
	inbox.RemoveUIDs([]imap.UID{m1.UID})

	m2, err := inbox.Append(sampleMessage("two"), nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, imap.UID(2), m2.UID)
}

func TestUpdateFlags(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	m, _ := inbox.Append(sampleMessage("one"), nil, time.Now())

	flags, _, ok := inbox.UpdateFlags(m, imap.StoreFlagsAdd, []imap.Flag{imap.FlagSeen, "custom"}, nil)
	require.True(t, ok)
	assert.Contains(t, flags, imap.FlagSeen)
	assert.Contains(t, flags, imap.Flag("custom"))

	flags, _, ok = inbox.UpdateFlags(m, imap.StoreFlagsDel, []imap.Flag{imap.FlagSeen}, nil)
	require.True(t, ok)
	assert.NotContains(t, flags, imap.FlagSeen)

	// Set replaces everything except \Recent.
	flags, _, ok = inbox.UpdateFlags(m, imap.StoreFlagsSet, []imap.Flag{imap.FlagFlagged}, nil)
	require.True(t, ok)
	assert.Contains(t, flags, imap.FlagFlagged)
	assert.NotContains(t, flags, imap.Flag("custom"))
	assert.Contains(t, flags, FlagRecent)
}

func TestClearRecent(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	inbox.Append(sampleMessage("one"), nil, time.Now())
	require.Equal(t, uint32(1), inbox.Summary().NumRecent)

	inbox.ClearRecent()
	assert.Equal(t, uint32(0), inbox.Summary().NumRecent)
}

func TestExpungeOnlyDeleted(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	m1, _ := inbox.Append(sampleMessage("one"), nil, time.Now())
	m2, _ := inbox.Append(sampleMessage("two"), nil, time.Now())
	m3, _ := inbox.Append(sampleMessage("three"), nil, time.Now())

	inbox.UpdateFlags(m1, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}, nil)
	inbox.UpdateFlags(m3, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}, nil)

	expunged := inbox.Expunge(nil)
	assert.Len(t, expunged, 2)

	// The survivor is renumbered to sequence 1.
	snapshot := inbox.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, m2.UID, snapshot[0].UID)

	items := inbox.ResolveNumSet(imap.SeqSetNum(1))
	require.Len(t, items, 1)
	assert.Equal(t, m2.UID, items[0].Msg.UID)
}

func TestExpungeRestrictedToUIDSet(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	m1, _ := inbox.Append(sampleMessage("one"), nil, time.Now())
	m2, _ := inbox.Append(sampleMessage("two"), nil, time.Now())
	inbox.UpdateFlags(m1, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}, nil)
	inbox.UpdateFlags(m2, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}, nil)

	uids := imap.UIDSetNum(m1.UID)
	expunged := inbox.Expunge(&uids)
	assert.Len(t, expunged, 1)
	assert.Equal(t, uint32(1), inbox.NumMessages())
}

func TestCopyAndMoveMessages(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()
	dest, err := u.CreateFolder("saved")
	require.NoError(t, err)

	m, _ := inbox.Append(sampleMessage("one"), nil, time.Now())
	inbox.UpdateFlags(m, imap.StoreFlagsAdd, []imap.Flag{imap.FlagFlagged}, nil)

	items := inbox.ResolveNumSet(imap.SeqSetNum(1))
	require.Len(t, items, 1)

	srcUIDs, dstUIDs, err := CopyMessages(inbox, dest, items)
	require.NoError(t, err)
	assert.Len(t, srcUIDs, 1)
	assert.Len(t, dstUIDs, 1)
	assert.Equal(t, uint32(1), inbox.NumMessages())
	require.Equal(t, uint32(1), dest.NumMessages())

	// Flags travel with the copy.
	copied := dest.Snapshot()[0]
	assert.Contains(t, dest.FlagList(copied), imap.FlagFlagged)

	_, _, err = MoveMessages(inbox, dest, items)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), inbox.NumMessages())
	assert.Equal(t, uint32(2), dest.NumMessages())
}

func TestPurgeAllMail(t *testing.T) {
	st := newTestStore(t)
	u1 := st.SetUser("a@example.com", "a", "x")
	u2 := st.SetUser("b@example.com", "b", "x")

	u1.Inbox().Append(sampleMessage("one"), nil, time.Now())
	u2.Inbox().Append(sampleMessage("two"), nil, time.Now())
	require.Equal(t, 2, st.TotalMessageCount())

	purged := st.PurgeAllMail()
	assert.Equal(t, 2, purged)
	assert.Equal(t, 0, st.TotalMessageCount())

	// Accounts and folders survive a purge.
	_, err := st.User("a")
	assert.NoError(t, err)
}

func TestMessageEnvelope(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	m, err := u.Inbox().Append(sampleMessage("hello"), nil, time.Now())
	require.NoError(t, err)

	env := m.Envelope()
	require.NotNil(t, env)
	assert.Equal(t, "hello", env.Subject)
	require.Len(t, env.From, 1)
	assert.Equal(t, "from", env.From[0].Mailbox)
	assert.Equal(t, "example.com", env.From[0].Host)
	require.Len(t, env.To, 1)
	assert.Equal(t, "to", env.To[0].Mailbox)
}

func TestMessageCanonicalizesLineEndings(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")

	raw := []byte("Subject: bare\n\nline one\nline two\n")
	m, err := u.Inbox().Append(raw, nil, time.Now())
	require.NoError(t, err)

	assert.Contains(t, string(m.Raw), "Subject: bare\r\n\r\n")
	assert.Contains(t, string(m.Body()), "line one\r\nline two\r\n")
}

func TestFolderListener(t *testing.T) {
	st := newTestStore(t)
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	var events []string
	l := &recordingListener{events: &events}
	token := inbox.AddListener(l)

	m, _ := inbox.Append(sampleMessage("one"), nil, time.Now())
	inbox.UpdateFlags(m, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}, nil)
	inbox.Expunge(nil)

	assert.Equal(t, []string{"added", "flags", "expunged"}, events)

	inbox.RemoveListener(token)
	inbox.Append(sampleMessage("two"), nil, time.Now())
	assert.Len(t, events, 3)
}

type recordingListener struct {
	events *[]string
}

func (l *recordingListener) MessageAdded(folder string, seqNum uint32, msg *Message) {
	*l.events = append(*l.events, "added")
}

func (l *recordingListener) FlagsUpdated(folder string, seqNum uint32, msg *Message, flags []imap.Flag) {
	*l.events = append(*l.events, "flags")
}

func (l *recordingListener) MessageExpunged(folder string, seqNum uint32, uid imap.UID) {
	*l.events = append(*l.events, "expunged")
}
