package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stubmail/stubmail/consts"
)

// User is one mail account with its folder namespace. Credentials are kept
// in plaintext: this is a test double and APOP needs the shared secret.
// The folder directory is guarded by the store's directory lock.
type User struct {
	store *Store

	email    string
	login    string
	password string

	folders map[string]*Folder
}

// Email returns the user's primary address.
func (u *User) Email() string { return u.email }

// Login returns the name the user authenticates with.
func (u *User) Login() string { return u.login }

// Password returns the plaintext password.
func (u *User) Password() string {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	return u.password
}

// SetPassword replaces the password.
func (u *User) SetPassword(password string) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	u.password = password
}

// Domain returns the part of the email address after '@', or "".
func (u *User) Domain() string {
	if i := strings.LastIndexByte(u.email, '@'); i >= 0 {
		return u.email[i+1:]
	}
	return ""
}

// NormalizeFolderName strips leading/trailing delimiters and canonicalizes
// the INBOX spelling (the first path segment only; "INBOX/sub" is a regular
// hierarchy under INBOX).
func NormalizeFolderName(name string) string {
	delim := string(consts.MailboxDelimiter)
	name = strings.Trim(name, delim)
	first, rest, found := strings.Cut(name, delim)
	if strings.EqualFold(first, consts.MailboxInbox) {
		first = consts.MailboxInbox
	}
	if found {
		return first + delim + rest
	}
	return first
}

// Inbox returns the user's INBOX, which always exists.
func (u *User) Inbox() *Folder {
	f, _ := u.Folder(consts.MailboxInbox)
	return f
}

// Folder looks up a folder by name. \Noselect placeholders are returned;
// callers that need a selectable folder check IsNoSelect.
func (u *User) Folder(name string) (*Folder, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	f, ok := u.folders[NormalizeFolderName(name)]
	if !ok {
		return nil, consts.ErrMailboxNotFound
	}
	return f, nil
}

// Folders returns every folder sorted by name.
func (u *User) Folders() []*Folder {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	out := make([]*Folder, 0, len(u.folders))
	for _, f := range u.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// CreateFolder creates a folder, including any missing parents. Creating a
// \Noselect placeholder again revives it with a fresh UIDVALIDITY.
func (u *User) CreateFolder(name string) (*Folder, error) {
	name = NormalizeFolderName(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty folder name", consts.ErrNotPermitted)
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	if existing, ok := u.folders[name]; ok {
		if existing.IsNoSelect() {
			revived := newFolder(u, name, u.store.nextUIDValidity())
			u.folders[name] = revived
			return revived, nil
		}
		return nil, consts.ErrMailboxExists
	}

	// Create missing parents as regular folders first.
	delim := string(consts.MailboxDelimiter)
	parts := strings.Split(name, delim)
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], delim)
		if _, ok := u.folders[parent]; !ok {
			u.folders[parent] = newFolder(u, parent, u.store.nextUIDValidity())
		}
	}

	f := newFolder(u, name, u.store.nextUIDValidity())
	u.folders[name] = f
	u.store.updateGauges()
	return f, nil
}

// DeleteFolder removes a folder. INBOX cannot be deleted. A folder with
// inferiors is emptied and kept as a \Noselect placeholder; deleting such a
// placeholder again fails until its inferiors are gone.
func (u *User) DeleteFolder(name string) error {
	name = NormalizeFolderName(name)
	if strings.EqualFold(name, consts.MailboxInbox) {
		return fmt.Errorf("%w: cannot delete INBOX", consts.ErrNotPermitted)
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	f, ok := u.folders[name]
	if !ok {
		return consts.ErrMailboxNotFound
	}

	if u.hasInferiorsLocked(name) {
		if f.IsNoSelect() {
			return fmt.Errorf("%w: folder has inferiors", consts.ErrNotPermitted)
		}
		f.setNoSelect()
		return nil
	}

	f.PurgeAll()
	delete(u.folders, name)
	u.store.updateGauges()
	return nil
}

// RenameFolder renames a folder and its whole subtree. Renaming INBOX is
// special per RFC 3501: the messages move to the (new) destination and
// INBOX itself stays, empty, with its UIDVALIDITY unchanged.
func (u *User) RenameFolder(oldName, newName string) error {
	oldName = NormalizeFolderName(oldName)
	newName = NormalizeFolderName(newName)
	if newName == "" {
		return fmt.Errorf("%w: empty folder name", consts.ErrNotPermitted)
	}
	if strings.EqualFold(newName, consts.MailboxInbox) {
		return fmt.Errorf("%w: cannot rename to INBOX", consts.ErrNotPermitted)
	}

	if oldName == consts.MailboxInbox {
		// Move the messages; do not touch INBOX itself.
		dst, err := u.CreateFolder(newName)
		if err != nil {
			return err
		}
		u.Inbox().moveMessagesTo(dst)
		return nil
	}

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	src, ok := u.folders[oldName]
	if !ok {
		return consts.ErrMailboxNotFound
	}
	if _, exists := u.folders[newName]; exists {
		return consts.ErrMailboxExists
	}

	// Rename the folder and every inferior in one directory pass.
	delim := string(consts.MailboxDelimiter)
	prefix := oldName + delim
	renamed := map[string]*Folder{newName: src}
	delete(u.folders, oldName)
	for name, f := range u.folders {
		if strings.HasPrefix(name, prefix) {
			renamed[newName+delim+strings.TrimPrefix(name, prefix)] = f
			delete(u.folders, name)
		}
	}
	for name, f := range renamed {
		f.mu.Lock()
		f.name = name
		f.mu.Unlock()
		u.folders[name] = f
	}

	// Create any missing parents of the new name.
	parts := strings.Split(newName, delim)
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], delim)
		if _, ok := u.folders[parent]; !ok {
			u.folders[parent] = newFolder(u, parent, u.store.nextUIDValidity())
		}
	}
	return nil
}

// hasInferiorsLocked reports whether any folder lives below name.
func (u *User) hasInferiorsLocked(name string) bool {
	prefix := name + string(consts.MailboxDelimiter)
	for other := range u.folders {
		if strings.HasPrefix(other, prefix) {
			return true
		}
	}
	return false
}
