package imap

import (
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/store"
)

func (s *IMAPSession) List(w *imapserver.ListWriter, ref string, patterns []string, options *imap.ListOptions) error {
	user, err := s.ensureAuthenticated()
	if err != nil {
		return err
	}

	// LIST "" "" only asks for the hierarchy delimiter.
	if len(patterns) == 0 {
		return w.WriteList(&imap.ListData{
			Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect},
			Delim: consts.MailboxDelimiter,
		})
	}

	subscribedOnly := options != nil && options.SelectSubscribed

	for _, folder := range user.ListFolders(ref, patterns, subscribedOnly) {
		data := &imap.ListData{
			Mailbox: folder.Name(),
			Delim:   consts.MailboxDelimiter,
			Attrs:   folderAttrs(user, folder),
		}

		if options != nil && options.ReturnStatus != nil && !folder.IsNoSelect() {
			data.Status = statusData(folder, options.ReturnStatus)
		}

		if err := w.WriteList(data); err != nil {
			return s.internalError("failed to write list entry: %v", err)
		}
	}
	return nil
}

func folderAttrs(user *store.User, folder *store.Folder) []imap.MailboxAttr {
	var attrs []imap.MailboxAttr

	if folder.IsNoSelect() {
		attrs = append(attrs, imap.MailboxAttrNoSelect)
	}

	if user.HasInferiors(folder.Name()) {
		attrs = append(attrs, imap.MailboxAttrHasChildren)
	} else {
		attrs = append(attrs, imap.MailboxAttrHasNoChildren)
	}

	switch strings.ToUpper(folder.Name()) {
	case "SENT":
		attrs = append(attrs, imap.MailboxAttrSent)
	case "TRASH":
		attrs = append(attrs, imap.MailboxAttrTrash)
	case "DRAFTS":
		attrs = append(attrs, imap.MailboxAttrDrafts)
	case "ARCHIVE":
		attrs = append(attrs, imap.MailboxAttrArchive)
	case "JUNK":
		attrs = append(attrs, imap.MailboxAttrJunk)
	}

	return attrs
}
