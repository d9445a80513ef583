package pop3

import "strings"

// dotStuffPOP3 byte-stuffs a multi-line response per RFC 1939 section 3:
// any line beginning with a termination octet gets the octet doubled, so
// body content cannot be mistaken for the CRLF.CRLF terminator.
func dotStuffPOP3(data string) string {
	if data == "" {
		return data
	}
	// Fast path: nothing to stuff.
	if !strings.Contains(data, ".") {
		return data
	}

	var b strings.Builder
	b.Grow(len(data) + 16)
	atLineStart := true
	for i := 0; i < len(data); i++ {
		c := data[i]
		if atLineStart && c == '.' {
			b.WriteByte('.')
		}
		b.WriteByte(c)
		atLineStart = c == '\n'
	}
	return b.String()
}
