package store

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-message/mail"
	"lukechampine.com/blake3"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	_ "github.com/emersion/go-message/charset"
)

// FlagRecent is the \Recent session flag. IMAP4rev2 retired it and go-imap
// v2 no longer defines it, but unseen-since-last-session bookkeeping still
// needs it internally.
const FlagRecent imap.Flag = "\\Recent"

// Message is a single immutable mail body plus its mutable flag set. The
// raw bytes, UID, internal date, envelope and body structure never change
// after construction; flags are guarded by the owning folder's lock.
type Message struct {
	UID          imap.UID
	InternalDate time.Time

	// Raw is the canonical CRLF-delimited RFC 5322 message.
	Raw []byte

	// ContentHash is the hex BLAKE3 digest of Raw, used as a stable message
	// identity for the HTTP API.
	ContentHash string

	envelope      *imap.Envelope
	bodyStructure imap.BodyStructure
	header        mail.Header
	bodyOffset    int

	flags map[imap.Flag]struct{}
}

func newMessage(raw []byte, internalDate time.Time, flags []imap.Flag) *Message {
	raw = canonicalizeCRLF(raw)
	sum := blake3.Sum256(raw)

	if internalDate.IsZero() {
		internalDate = time.Now()
	}

	m := &Message{
		UID:          0, // assigned by the folder on append
		InternalDate: internalDate,
		Raw:          raw,
		ContentHash:  hex.EncodeToString(sum[:]),
		flags:        make(map[imap.Flag]struct{}, len(flags)+1),
	}
	for _, f := range flags {
		m.flags[canonicalFlag(f)] = struct{}{}
	}

	m.parse()
	return m
}

// parse extracts header, envelope and body structure once at construction.
// Malformed messages degrade to an empty envelope and a text/plain body
// structure instead of failing the append.
func (m *Message) parse() {
	m.bodyOffset = len(m.Raw)
	if i := bytes.Index(m.Raw, []byte("\r\n\r\n")); i >= 0 {
		m.bodyOffset = i + 4
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(m.Raw)))
	if err == nil {
		m.header = mail.Header{Header: gomessage.Header{Header: th}}
	}

	m.envelope = buildEnvelope(m.header)
	m.bodyStructure = extractBodyStructureSafe(m.Raw)
}

// Size returns the RFC822.SIZE of the message.
func (m *Message) Size() int64 {
	return int64(len(m.Raw))
}

// Envelope returns the parsed envelope. Never nil.
func (m *Message) Envelope() *imap.Envelope {
	return m.envelope
}

// BodyStructure returns the parsed body structure. Never nil.
func (m *Message) BodyStructure() imap.BodyStructure {
	return m.bodyStructure
}

// Header returns the parsed message header.
func (m *Message) Header() mail.Header {
	return m.header
}

// Body returns the raw bytes after the header separator.
func (m *Message) Body() []byte {
	return m.Raw[m.bodyOffset:]
}

// BodySection renders one FETCH BODY[...] section of the message.
func (m *Message) BodySection(section *imap.FetchItemBodySection) []byte {
	return imapserver.ExtractBodySection(bytes.NewReader(m.Raw), section)
}

// flagList returns a sorted-insensitive copy of the flag set. Callers must
// hold the owning folder's lock.
func (m *Message) flagList() []imap.Flag {
	flags := make([]imap.Flag, 0, len(m.flags))
	for f := range m.flags {
		flags = append(flags, f)
	}
	return flags
}

// hasFlag reports flag membership. Callers must hold the owning folder's
// lock.
func (m *Message) hasFlag(flag imap.Flag) bool {
	_, ok := m.flags[canonicalFlag(flag)]
	return ok
}

// canonicalFlag normalizes system flag spelling so that \seen and \Seen are
// the same flag. Keyword flags keep their case.
func canonicalFlag(f imap.Flag) imap.Flag {
	switch {
	case flagEqual(f, imap.FlagSeen):
		return imap.FlagSeen
	case flagEqual(f, imap.FlagAnswered):
		return imap.FlagAnswered
	case flagEqual(f, imap.FlagFlagged):
		return imap.FlagFlagged
	case flagEqual(f, imap.FlagDeleted):
		return imap.FlagDeleted
	case flagEqual(f, imap.FlagDraft):
		return imap.FlagDraft
	case flagEqual(f, FlagRecent):
		return FlagRecent
	}
	return f
}

func flagEqual(a, b imap.Flag) bool {
	return bytes.EqualFold([]byte(a), []byte(b))
}

// canonicalizeCRLF rewrites bare LF line endings to CRLF. Already-canonical
// input is returned unchanged without copying.
func canonicalizeCRLF(raw []byte) []byte {
	needsFix := false
	for i, b := range raw {
		if b == '\n' && (i == 0 || raw[i-1] != '\r') {
			needsFix = true
			break
		}
	}
	if !needsFix {
		return raw
	}

	out := make([]byte, 0, len(raw)+64)
	for i, b := range raw {
		if b == '\n' && (i == 0 || raw[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	return out
}

// buildEnvelope assembles the IMAP envelope from the message header,
// applying the RFC 3501 defaulting rules for Sender and Reply-To.
func buildEnvelope(h mail.Header) *imap.Envelope {
	env := &imap.Envelope{}

	if date, err := h.Date(); err == nil {
		env.Date = date
	}
	env.Subject, _ = h.Subject()

	env.From = addressList(h, "From")
	env.Sender = addressList(h, "Sender")
	env.ReplyTo = addressList(h, "Reply-To")
	env.To = addressList(h, "To")
	env.Cc = addressList(h, "Cc")
	env.Bcc = addressList(h, "Bcc")

	if len(env.Sender) == 0 {
		env.Sender = env.From
	}
	if len(env.ReplyTo) == 0 {
		env.ReplyTo = env.From
	}

	if id, err := h.MessageID(); err == nil {
		env.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil {
		env.InReplyTo = ids
	}

	return env
}

func addressList(h mail.Header, key string) []imap.Address {
	list, err := h.AddressList(key)
	if err != nil && list == nil {
		return nil
	}

	addrs := make([]imap.Address, 0, len(list))
	for _, a := range list {
		mailbox := a.Address
		host := ""
		if i := strings.LastIndexByte(a.Address, '@'); i >= 0 {
			mailbox = a.Address[:i]
			host = a.Address[i+1:]
		}
		addrs = append(addrs, imap.Address{
			Name:    a.Name,
			Mailbox: mailbox,
			Host:    host,
		})
	}
	return addrs
}

// extractBodyStructureSafe wraps imapserver.ExtractBodyStructure with panic
// recovery, falling back to a plain-text single part for messages the MIME
// parser cannot make sense of.
func extractBodyStructureSafe(raw []byte) (bs imap.BodyStructure) {
	defer func() {
		if r := recover(); r != nil {
			bs = defaultBodyStructure()
		}
	}()

	bs = imapserver.ExtractBodyStructure(bytes.NewReader(raw))
	if bs == nil {
		bs = defaultBodyStructure()
	}
	return bs
}

func defaultBodyStructure() imap.BodyStructure {
	return &imap.BodyStructureSinglePart{
		Type:    "text",
		Subtype: "plain",
		Params:  map[string]string{"charset": "utf-8"},
	}
}
