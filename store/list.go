package store

import (
	"sort"

	"github.com/emersion/go-imap/v2/imapserver"

	"github.com/stubmail/stubmail/consts"
)

// ListFolders returns the user's folders matching any of the LIST patterns
// against the reference name, sorted by name. With subscribedOnly set only
// subscribed folders are returned (LSUB / LIST (SUBSCRIBED)).
func (u *User) ListFolders(ref string, patterns []string, subscribedOnly bool) []*Folder {
	matched := make(map[string]*Folder)

	u.store.mu.RLock()
	for name, f := range u.folders {
		for _, pattern := range patterns {
			if imapserver.MatchList(name, consts.MailboxDelimiter, ref, pattern) {
				matched[name] = f
				break
			}
		}
	}
	u.store.mu.RUnlock()

	out := make([]*Folder, 0, len(matched))
	for _, f := range matched {
		if subscribedOnly && !f.IsSubscribed() {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// HasInferiors reports whether any folder exists below the given one.
func (u *User) HasInferiors(name string) bool {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	return u.hasInferiorsLocked(NormalizeFolderName(name))
}

// SubscribeFolder marks a folder as subscribed.
func (u *User) SubscribeFolder(name string) error {
	f, err := u.Folder(name)
	if err != nil {
		return err
	}
	f.SetSubscribed(true)
	return nil
}

// UnsubscribeFolder clears a folder's subscription.
func (u *User) UnsubscribeFolder(name string) error {
	f, err := u.Folder(name)
	if err != nil {
		return err
	}
	f.SetSubscribed(false)
	return nil
}
