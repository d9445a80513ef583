package imap

import (
	"github.com/emersion/go-imap/v2"

	"github.com/stubmail/stubmail/consts"
)

// Namespace implements imapserver.SessionNamespace. There is a single
// personal namespace with an empty prefix.
func (s *IMAPSession) Namespace() (*imap.NamespaceData, error) {
	if _, err := s.ensureAuthenticated(); err != nil {
		return nil, err
	}

	return &imap.NamespaceData{
		Personal: []imap.NamespaceDescriptor{
			{Prefix: "", Delim: consts.MailboxDelimiter},
		},
	}, nil
}
