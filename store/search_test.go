package store

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/require"
)

// searchFixture is an inbox with three known messages:
//
//	seq 1  "invoice"  from billing@shop.example, \Seen, sent 2025-01-10
//	seq 2  "meeting"  from boss@corp.example, \Flagged, sent 2025-02-20
//	seq 3  "invoice reminder" from billing@shop.example, unread, sent 2025-03-05
func searchFixture(t *testing.T) *Folder {
	t.Helper()
	st := New(Options{Hostname: "localhost"})
	u := st.SetUser("to@example.com", "to", "secret")
	inbox := u.Inbox()

	append := func(from, subject, date, body string, flags []imap.Flag) *Message {
		raw := []byte("From: " + from + "\r\n" +
			"To: to@example.com\r\n" +
			"Subject: " + subject + "\r\n" +
			"Date: " + date + "\r\n" +
			"\r\n" + body + "\r\n")
		m, err := inbox.Append(raw, flags, time.Now())
		require.NoError(t, err)
		return m
	}

	append("billing@shop.example", "invoice", "Fri, 10 Jan 2025 09:00:00 +0000",
		"Your invoice total is 42 euro.", []imap.Flag{imap.FlagSeen})
	append("boss@corp.example", "meeting", "Thu, 20 Feb 2025 15:30:00 +0000",
		"Standup moved to 10am.", []imap.Flag{imap.FlagFlagged})
	append("billing@shop.example", "invoice reminder", "Wed, 5 Mar 2025 09:00:00 +0000",
		"Second notice for invoice 42.", nil)

	return inbox
}

func seqsOf(results []NumMessage) []uint32 {
	var out []uint32
	for _, nm := range results {
		out = append(out, nm.Seq)
	}
	return out
}

func TestSearchAll(t *testing.T) {
	inbox := searchFixture(t)
	require.Equal(t, []uint32{1, 2, 3}, seqsOf(inbox.Search(&imap.SearchCriteria{})))
}

func TestSearchFlags(t *testing.T) {
	inbox := searchFixture(t)

	seen := inbox.Search(&imap.SearchCriteria{Flag: []imap.Flag{imap.FlagSeen}})
	require.Equal(t, []uint32{1}, seqsOf(seen))

	unseen := inbox.Search(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}})
	require.Equal(t, []uint32{2, 3}, seqsOf(unseen))

	flagged := inbox.Search(&imap.SearchCriteria{Flag: []imap.Flag{imap.FlagFlagged}})
	require.Equal(t, []uint32{2}, seqsOf(flagged))
}

func TestSearchHeader(t *testing.T) {
	inbox := searchFixture(t)

	bySubject := inbox.Search(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}},
	})
	require.Equal(t, []uint32{1, 3}, seqsOf(bySubject))

	// Header matching is case-insensitive on both key and value.
	byFrom := inbox.Search(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "FROM", Value: "BOSS@"}},
	})
	require.Equal(t, []uint32{2}, seqsOf(byFrom))

	// Empty value is an existence check.
	hasDate := inbox.Search(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Date", Value: ""}},
	})
	require.Len(t, hasDate, 3)

	missing := inbox.Search(&imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "X-Nope", Value: ""}},
	})
	require.Empty(t, missing)
}

func TestSearchBodyAndText(t *testing.T) {
	inbox := searchFixture(t)

	body := inbox.Search(&imap.SearchCriteria{Body: []string{"standup"}})
	require.Equal(t, []uint32{2}, seqsOf(body))

	// BODY does not look at headers, TEXT does.
	bodyMiss := inbox.Search(&imap.SearchCriteria{Body: []string{"corp.example"}})
	require.Empty(t, bodyMiss)

	text := inbox.Search(&imap.SearchCriteria{Text: []string{"corp.example"}})
	require.Equal(t, []uint32{2}, seqsOf(text))
}

func TestSearchSentDates(t *testing.T) {
	inbox := searchFixture(t)

	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	before := inbox.Search(&imap.SearchCriteria{SentBefore: cutoff})
	require.Equal(t, []uint32{1}, seqsOf(before))

	since := inbox.Search(&imap.SearchCriteria{SentSince: cutoff})
	require.Equal(t, []uint32{2, 3}, seqsOf(since))

	// SENTSINCE is inclusive of the given date.
	onDay := inbox.Search(&imap.SearchCriteria{
		SentSince: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.Equal(t, []uint32{3}, seqsOf(onDay))
}

func TestSearchInternalDate(t *testing.T) {
	inbox := searchFixture(t)

	// All fixture messages arrived "now".
	today := inbox.Search(&imap.SearchCriteria{Since: time.Now()})
	require.Len(t, today, 3)

	tomorrow := inbox.Search(&imap.SearchCriteria{Since: time.Now().AddDate(0, 0, 1)})
	require.Empty(t, tomorrow)

	old := inbox.Search(&imap.SearchCriteria{Before: time.Now()})
	require.Empty(t, old)
}

func TestSearchUIDAndSeqSets(t *testing.T) {
	inbox := searchFixture(t)

	uids := imap.UIDSetNum(1, 3)
	byUID := inbox.Search(&imap.SearchCriteria{UID: []imap.UIDSet{uids}})
	require.Equal(t, []uint32{1, 3}, seqsOf(byUID))

	bySeq := inbox.Search(&imap.SearchCriteria{SeqNum: []imap.SeqSet{imap.SeqSetNum(2)}})
	require.Equal(t, []uint32{2}, seqsOf(bySeq))
}

func TestSearchSize(t *testing.T) {
	inbox := searchFixture(t)

	all := inbox.Search(&imap.SearchCriteria{Larger: 1})
	require.Len(t, all, 3)

	none := inbox.Search(&imap.SearchCriteria{Smaller: 10})
	require.Empty(t, none)
}

func TestSearchNotAndOr(t *testing.T) {
	inbox := searchFixture(t)

	notInvoice := inbox.Search(&imap.SearchCriteria{
		Not: []imap.SearchCriteria{{
			Header: []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}},
		}},
	})
	require.Equal(t, []uint32{2}, seqsOf(notInvoice))

	seenOrFlagged := inbox.Search(&imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			{Flag: []imap.Flag{imap.FlagSeen}},
			{Flag: []imap.Flag{imap.FlagFlagged}},
		}},
	})
	require.Equal(t, []uint32{1, 2}, seqsOf(seenOrFlagged))
}

func TestSearchConjunction(t *testing.T) {
	inbox := searchFixture(t)

	// Multiple keys are ANDed: invoice subject AND unread.
	results := inbox.Search(&imap.SearchCriteria{
		Header:  []imap.SearchCriteriaHeaderField{{Key: "Subject", Value: "invoice"}},
		NotFlag: []imap.Flag{imap.FlagSeen},
	})
	require.Equal(t, []uint32{3}, seqsOf(results))
}
