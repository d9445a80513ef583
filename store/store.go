// Package store holds all mail state in memory: users, folders and
// messages. Nothing is ever persisted; a new Store starts empty.
//
// Locking is two-level. The Store's directory lock guards the user table
// and every user's folder table; each Folder has its own lock guarding its
// message list and flags. Directory operations never run while a folder
// lock is held.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/pkg/metrics"
)

// Options configures a Store.
type Options struct {
	// Hostname is the domain used to complete bare logins into addresses.
	Hostname string

	// AuthDisabled makes any password valid and auto-provisions unknown
	// users on login and on delivery.
	AuthDisabled bool

	// LoginForm is "local_part" (default) or "email".
	LoginForm string
}

// Store is the shared in-memory mail store behind all protocol servers.
type Store struct {
	hostname     string
	authDisabled bool
	loginForm    string

	mu    sync.RWMutex
	users map[string]*User

	// uidValiditySeq is a process-wide monotonic UIDVALIDITY source, seeded
	// from the wall clock so recreated folders always advance.
	uidValiditySeq uint32
}

// New creates an empty store.
func New(opts Options) *Store {
	hostname := opts.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	loginForm := "local_part"
	if strings.EqualFold(opts.LoginForm, "email") {
		loginForm = "email"
	}
	return &Store{
		hostname:       hostname,
		authDisabled:   opts.AuthDisabled,
		loginForm:      loginForm,
		users:          make(map[string]*User),
		uidValiditySeq: uint32(time.Now().Unix()),
	}
}

// AuthDisabled reports whether credential checks are off.
func (s *Store) AuthDisabled() bool { return s.authDisabled }

// Hostname returns the store's default domain.
func (s *Store) Hostname() string { return s.hostname }

// nextUIDValidity returns a fresh UIDVALIDITY. Caller must hold the
// directory write lock.
func (s *Store) nextUIDValidity() uint32 {
	s.uidValiditySeq++
	return s.uidValiditySeq
}

// SetUser creates a user or updates the password of an existing one, and
// returns it. The login key is case-insensitive. An empty login derives
// from the email per the configured login form; an empty email derives
// from the login and the store hostname.
func (s *Store) SetUser(email, login, password string) *User {
	if email == "" && login == "" {
		return nil
	}
	if login == "" {
		login = s.deriveLogin(email)
	}
	if email == "" {
		email = login
		if !strings.Contains(email, "@") {
			email = email + "@" + s.hostname
		}
	}
	if password == "" {
		password = login
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(login)
	if u, ok := s.users[key]; ok {
		u.password = password
		return u
	}

	u := &User{
		store:    s,
		email:    email,
		login:    login,
		password: password,
		folders:  make(map[string]*Folder),
	}
	u.folders[consts.MailboxInbox] = newFolder(u, consts.MailboxInbox, s.nextUIDValidity())
	s.users[key] = u
	s.updateGauges()
	return u
}

func (s *Store) deriveLogin(email string) string {
	if s.loginForm == "email" {
		return email
	}
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// User looks up a user by login name (case-insensitive).
func (s *Store) User(login string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.ToLower(login)]
	if !ok {
		return nil, consts.ErrUserNotFound
	}
	return u, nil
}

// UserByEmail looks up a user by primary address (case-insensitive).
func (s *Store) UserByEmail(email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.email, email) {
			return u, nil
		}
	}
	return nil, consts.ErrUserNotFound
}

// Users returns all users in unspecified order.
func (s *Store) Users() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// DeleteUser removes a user and all their mail.
func (s *Store) DeleteUser(login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(login)
	u, ok := s.users[key]
	if !ok {
		return consts.ErrUserNotFound
	}
	for _, f := range u.folders {
		f.PurgeAll()
	}
	delete(s.users, key)
	s.updateGauges()
	return nil
}

// Authenticate verifies credentials and returns the user. With auth
// disabled any password is accepted and unknown users are provisioned on
// the fly.
func (s *Store) Authenticate(login, password string) (*User, error) {
	u, err := s.User(login)
	if err == nil {
		if s.authDisabled || u.Password() == password {
			return u, nil
		}
		return nil, consts.ErrAuthFailed
	}
	if s.authDisabled {
		return s.SetUser("", login, password), nil
	}
	return nil, fmt.Errorf("%w: unknown user %s", consts.ErrAuthFailed, login)
}

// ResolveRecipient maps an RFC 5321 recipient address to a user. Unknown
// recipients are provisioned when auth is disabled and rejected otherwise.
func (s *Store) ResolveRecipient(addr string) (*User, error) {
	addr = strings.Trim(addr, "<>")
	if u, err := s.UserByEmail(addr); err == nil {
		return u, nil
	}
	if u, err := s.User(addr); err == nil {
		return u, nil
	}
	// Try the local part as a login.
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		if u, err := s.User(addr[:i]); err == nil {
			return u, nil
		}
	}
	if s.authDisabled {
		return s.SetUser(addr, "", ""), nil
	}
	return nil, fmt.Errorf("%w: %s", consts.ErrUserNotFound, addr)
}

// TotalMessageCount sums the message counts of every folder.
func (s *Store) TotalMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, u := range s.users {
		for _, f := range u.folders {
			total += int(f.NumMessages())
		}
	}
	return total
}

// PurgeAllMail deletes every message in every folder, keeping users and
// folders in place.
func (s *Store) PurgeAllMail() int {
	s.mu.RLock()
	var folders []*Folder
	for _, u := range s.users {
		for _, f := range u.folders {
			folders = append(folders, f)
		}
	}
	s.mu.RUnlock()

	purged := 0
	for _, f := range folders {
		purged += f.PurgeAll()
	}
	return purged
}

// updateGauges refreshes the account/mailbox metrics. Caller must hold the
// directory lock.
func (s *Store) updateGauges() {
	accounts := len(s.users)
	mailboxes := 0
	for _, u := range s.users {
		mailboxes += len(u.folders)
	}
	metrics.AccountsTotal.Set(float64(accounts))
	metrics.MailboxesTotal.Set(float64(mailboxes))
}
