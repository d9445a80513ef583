package delivery

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubmail/stubmail/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st := store.New(store.Options{Hostname: "localhost"})
	st.SetUser("a@example.com", "a", "x")
	st.SetUser("b@example.com", "b", "x")
	return NewPipeline(st), st
}

var testRaw = []byte("From: sender@example.org\r\n" +
	"To: a@example.com\r\n" +
	"Subject: hi\r\n" +
	"\r\n" +
	"hello\r\n")

func TestDeliverJournalsPerRecipient(t *testing.T) {
	p, st := newTestPipeline(t)

	err := p.Deliver("<sender@example.org>", []string{"<a@example.com>", "<b@example.com>"}, testRaw)
	require.NoError(t, err)

	received := p.ReceivedMessages()
	require.Len(t, received, 2)
	assert.Equal(t, "sender@example.org", received[0].From)
	assert.Equal(t, "a@example.com", received[0].To)
	assert.Equal(t, "b@example.com", received[1].To)

	ua, _ := st.User("a")
	ub, _ := st.User("b")
	assert.Equal(t, uint32(1), ua.Inbox().NumMessages())
	assert.Equal(t, uint32(1), ub.Inbox().NumMessages())
}

func TestDeliverDropsUnknownRecipients(t *testing.T) {
	p, st := newTestPipeline(t)

	// One bad recipient does not fail the delivery.
	err := p.Deliver("sender@example.org", []string{"nobody@example.com", "a@example.com"}, testRaw)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Count())

	// All-bad does.
	err = p.Deliver("sender@example.org", []string{"nobody@example.com"}, testRaw)
	assert.Error(t, err)

	err = p.Deliver("sender@example.org", nil, testRaw)
	assert.Error(t, err)

	ua, _ := st.User("a")
	assert.Equal(t, uint32(1), ua.Inbox().NumMessages())
}

func TestReceivedMessagesForDomain(t *testing.T) {
	p, st := newTestPipeline(t)
	st.SetUser("c@other.net", "c", "x")

	require.NoError(t, p.Deliver("s@x.org", []string{"a@example.com"}, testRaw))
	require.NoError(t, p.Deliver("s@x.org", []string{"c@other.net"}, testRaw))

	assert.Len(t, p.ReceivedMessagesForDomain("example.com"), 1)
	assert.Len(t, p.ReceivedMessagesForDomain("EXAMPLE.COM"), 1)
	assert.Len(t, p.ReceivedMessagesForDomain("other.net"), 1)
	assert.Empty(t, p.ReceivedMessagesForDomain("elsewhere.io"))
}

func TestWaitForMessagesAlreadySatisfied(t *testing.T) {
	p, _ := newTestPipeline(t)
	require.NoError(t, p.Deliver("s@x.org", []string{"a@example.com"}, testRaw))

	start := time.Now()
	ok := p.WaitForMessages(5*time.Second, 1)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForMessagesBlocksUntilDelivery(t *testing.T) {
	p, _ := newTestPipeline(t)

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		ok = p.WaitForMessages(5*time.Second, 2)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Deliver("s@x.org", []string{"a@example.com"}, testRaw))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Deliver("s@x.org", []string{"b@example.com"}, testRaw))

	wg.Wait()
	assert.True(t, ok)
}

func TestWaitForMessagesTimeout(t *testing.T) {
	p, _ := newTestPipeline(t)

	start := time.Now()
	ok := p.WaitForMessages(100*time.Millisecond, 1)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestPurge(t *testing.T) {
	p, st := newTestPipeline(t)
	require.NoError(t, p.Deliver("s@x.org", []string{"a@example.com", "b@example.com"}, testRaw))

	purged := p.Purge()
	assert.Equal(t, 2, purged)
	assert.Equal(t, 0, p.Count())
	assert.Empty(t, p.ReceivedMessages())
	assert.Equal(t, 0, st.TotalMessageCount())
}
