package consts

const MailboxDelimiter = '/'

// MailboxInbox is the canonical spelling of the mandatory mailbox. Lookups
// treat the name case-insensitively per RFC 3501.
const MailboxInbox = "INBOX"

// MaxLineLength caps a single protocol line for the hand-rolled POP3 reader.
const MaxLineLength = 65536
