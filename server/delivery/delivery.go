// Package delivery routes accepted messages into the store and keeps the
// journal of everything the server has received, which is what test code
// asserts against.
package delivery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/store"
)

// ReceivedMessage is one journal entry: a message as delivered to one
// recipient. A message with three recipients produces three entries, in
// delivery order, matching what a test that sent three emails expects to
// count.
type ReceivedMessage struct {
	From       string
	To         string
	User       *store.User
	Message    *store.Message
	ReceivedAt time.Time
}

// Pipeline accepts messages from SMTP (and from the HTTP API) and appends
// them to each recipient's INBOX. It owns the received-mail journal and
// wakes anyone blocked in WaitForMessages.
type Pipeline struct {
	store *store.Store

	mu      sync.Mutex
	cond    *sync.Cond
	journal []*ReceivedMessage
}

// NewPipeline creates a pipeline over the given store.
func NewPipeline(st *store.Store) *Pipeline {
	p := &Pipeline{store: st}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Resolve maps a recipient address to a user without delivering anything.
// SMTP uses this for its RCPT-time pre-check.
func (p *Pipeline) Resolve(rcpt string) (*store.User, error) {
	return p.store.ResolveRecipient(rcpt)
}

// Deliver appends raw to the INBOX of every recipient and journals one
// entry per recipient. Unknown recipients (possible despite the RCPT
// pre-check when a user is deleted mid-session) are dropped with a
// warning; delivery succeeds if at least one recipient accepted.
func (p *Pipeline) Deliver(from string, rcpts []string, raw []byte) error {
	if len(rcpts) == 0 {
		return fmt.Errorf("%w: no recipients", consts.ErrNotPermitted)
	}

	delivered := 0
	for _, rcpt := range rcpts {
		user, err := p.store.ResolveRecipient(rcpt)
		if err != nil {
			logger.Warn("Dropping recipient", "rcpt", rcpt, "error", err)
			continue
		}
		msg, err := user.Inbox().Append(raw, nil, time.Now())
		if err != nil {
			logger.Warn("Failed to deliver", "rcpt", rcpt, "error", err)
			continue
		}
		delivered++

		p.mu.Lock()
		p.journal = append(p.journal, &ReceivedMessage{
			From:       strings.Trim(from, "<>"),
			To:         strings.Trim(rcpt, "<>"),
			User:       user,
			Message:    msg,
			ReceivedAt: time.Now(),
		})
		p.cond.Broadcast()
		p.mu.Unlock()
	}

	if delivered == 0 {
		return fmt.Errorf("%w: no recipient accepted the message", consts.ErrUserNotFound)
	}
	return nil
}

// ReceivedMessages returns a copy of the journal in delivery order.
func (p *Pipeline) ReceivedMessages() []*ReceivedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ReceivedMessage, len(p.journal))
	copy(out, p.journal)
	return out
}

// ReceivedMessagesForDomain returns the journal entries whose recipient is
// in the given domain.
func (p *Pipeline) ReceivedMessagesForDomain(domain string) []*ReceivedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*ReceivedMessage
	for _, rm := range p.journal {
		if i := strings.LastIndexByte(rm.To, '@'); i >= 0 && strings.EqualFold(rm.To[i+1:], domain) {
			out = append(out, rm)
		}
	}
	return out
}

// Count returns the number of journal entries.
func (p *Pipeline) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.journal)
}

// WaitForMessages blocks until the journal holds at least count entries or
// the timeout elapses, reporting whether the count was reached. A count
// already satisfied returns immediately; the condition is checked under
// the journal lock before every wait, so a delivery between entry and wait
// cannot be missed.
func (p *Pipeline) WaitForMessages(timeout time.Duration, count int) bool {
	deadline := time.Now().Add(timeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.journal) < count {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		// sync.Cond has no timed wait; a timer broadcast bounds this one.
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	return true
}

// Purge clears the journal and deletes every message from every mailbox.
func (p *Pipeline) Purge() int {
	p.mu.Lock()
	p.journal = nil
	p.mu.Unlock()
	return p.store.PurgeAllMail()
}
