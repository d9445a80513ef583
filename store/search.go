package store

import (
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Search evaluates IMAP SEARCH criteria against the folder and returns the
// matching messages with their current sequence numbers, in sequence
// order. The whole evaluation runs under the folder lock so the result is
// one consistent snapshot.
func (f *Folder) Search(criteria *imap.SearchCriteria) []NumMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []NumMessage
	for i, m := range f.messages {
		seq := uint32(i + 1)
		if matchCriteria(m, seq, criteria) {
			out = append(out, NumMessage{Seq: seq, Msg: m})
		}
	}
	return out
}

// matchCriteria implements the RFC 3501 SEARCH keys over a single message.
// Caller must hold the folder lock (flag keys read the live flag set).
func matchCriteria(m *Message, seq uint32, c *imap.SearchCriteria) bool {
	if c == nil {
		return true
	}

	for _, set := range c.SeqNum {
		if !set.Contains(seq) {
			return false
		}
	}
	for _, set := range c.UID {
		if !set.Contains(m.UID) {
			return false
		}
	}

	if !c.Since.IsZero() && dateBefore(m.InternalDate, c.Since) {
		return false
	}
	if !c.Before.IsZero() && !dateBefore(m.InternalDate, c.Before) {
		return false
	}
	if !c.SentSince.IsZero() || !c.SentBefore.IsZero() {
		sent := m.envelope.Date
		if sent.IsZero() {
			return false
		}
		if !c.SentSince.IsZero() && dateBefore(sent, c.SentSince) {
			return false
		}
		if !c.SentBefore.IsZero() && !dateBefore(sent, c.SentBefore) {
			return false
		}
	}

	for _, field := range c.Header {
		if !matchHeader(m, field.Key, field.Value) {
			return false
		}
	}
	for _, want := range c.Body {
		if !containsFold(m.Body(), want) {
			return false
		}
	}
	for _, want := range c.Text {
		if !containsFold(m.Raw, want) {
			return false
		}
	}

	for _, flag := range c.Flag {
		if !m.hasFlag(flag) {
			return false
		}
	}
	for _, flag := range c.NotFlag {
		if m.hasFlag(flag) {
			return false
		}
	}

	if c.Larger > 0 && m.Size() <= c.Larger {
		return false
	}
	if c.Smaller > 0 && m.Size() >= c.Smaller {
		return false
	}

	for _, not := range c.Not {
		if matchCriteria(m, seq, &not) {
			return false
		}
	}
	for _, or := range c.Or {
		if !matchCriteria(m, seq, &or[0]) && !matchCriteria(m, seq, &or[1]) {
			return false
		}
	}

	return true
}

// matchHeader checks a HEADER <key> <value> search key: substring match on
// any field with that name, existence check for an empty value.
func matchHeader(m *Message, key, value string) bool {
	fields := m.header.FieldsByKey(key)
	for fields.Next() {
		if value == "" {
			return true
		}
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		if strings.Contains(strings.ToLower(v), strings.ToLower(value)) {
			return true
		}
	}
	return false
}

// containsFold is a case-insensitive substring check on raw bytes.
func containsFold(haystack []byte, needle string) bool {
	if needle == "" {
		return true
	}
	return bytes.Contains(bytes.ToLower(haystack), bytes.ToLower([]byte(needle)))
}

// dateBefore compares at date granularity in the server's local zone, the
// way RFC 3501 date search keys ignore time and timezone.
func dateBefore(t, ref time.Time) bool {
	ty, tm, td := t.Date()
	ry, rm, rd := ref.Date()
	if ty != ry {
		return ty < ry
	}
	if tm != rm {
		return tm < rm
	}
	return td < rd
}
