package pop3

import (
	"fmt"

	"github.com/stubmail/stubmail/store"
)

// Response builders for the multi-line LIST and UIDL scans. Message
// numbers are positions in the session snapshot and stay stable across
// DELE per RFC 1939 section 5; deleted messages are skipped, their
// numbers are not reused.

func countNonDeletedMessages(messages []*store.Message, deleted map[int]bool) int {
	count := 0
	for i := range messages {
		if !deleted[i] {
			count++
		}
	}
	return count
}

func buildListResponseLines(messages []*store.Message, deleted map[int]bool) []string {
	lines := make([]string, 0, len(messages))
	for i, msg := range messages {
		if deleted[i] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.Size()))
	}
	return lines
}

func buildUIDLResponseLines(messages []*store.Message, deleted map[int]bool) []string {
	lines := make([]string, 0, len(messages))
	for i, msg := range messages {
		if deleted[i] {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %d", i+1, msg.UID))
	}
	return lines
}

// buildSingleListResponse answers LIST with an argument. The bool reports
// whether the message exists and is not deleted.
func buildSingleListResponse(messages []*store.Message, deleted map[int]bool, msgNumber int) (bool, string) {
	if msgNumber < 1 || msgNumber > len(messages) || deleted[msgNumber-1] {
		return false, ""
	}
	return true, fmt.Sprintf("%d %d", msgNumber, messages[msgNumber-1].Size())
}
