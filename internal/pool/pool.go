// ABOUTME: Authoritative registry of accounts and their live protocol sessions.
// ABOUTME: Guards all mutation with a mutex; insertion order determines primary.

package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/warden/internal/protocol"
)

// ErrDuplicatePhone indicates an account with the same phone number is
// already registered.
var ErrDuplicatePhone = errors.New("account already registered for this phone")

// ErrNotFound indicates the specified account was not found.
var ErrNotFound = errors.New("account not found")

// Account is the durable identity record for one managed network identity.
type Account struct {
	Phone       string
	Credentials protocol.Credentials
	Label       string
	Proxy       *protocol.Proxy
}

// entry pairs an account with its session. session is nil while the account
// is provisionally registered by an onboarding flow.
type entry struct {
	account Account
	session protocol.Session
}

// Pool owns every account and session in the process. Sessions are never
// touched outside its synchronized operations; network calls (close) happen
// only after the entry has been detached.
type Pool struct {
	mu          sync.RWMutex
	entries     []*entry
	byPhone     map[string]*entry
	sessionsDir string
	logger      *slog.Logger
}

// New creates an empty pool. Session artifacts are kept under sessionsDir.
func New(sessionsDir string, logger *slog.Logger) *Pool {
	return &Pool{
		byPhone:     make(map[string]*entry),
		sessionsDir: sessionsDir,
		logger:      logger.With("component", "pool"),
	}
}

// SessionPath returns the durable artifact path for a session label.
func (p *Pool) SessionPath(label string) string {
	return filepath.Join(p.sessionsDir, label+".session")
}

// Reserve registers an account that has no session yet. The entry is visible
// to List immediately so that aborted onboarding flows can be cleaned up.
// Returns ErrDuplicatePhone if the phone number is already registered.
func (p *Pool) Reserve(acct Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(acct, nil)
}

// Attach binds an opened session to a previously reserved account,
// completing its admission.
func (p *Pool) Attach(phone string, s protocol.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byPhone[phone]
	if !ok {
		return ErrNotFound
	}
	e.session = s
	p.logger.Info("session attached", "phone", phone, "total_accounts", len(p.entries))
	return nil
}

// Add admits a fully formed account+session pair in one step. Used for
// accounts seeded from configuration at startup.
func (p *Pool) Add(acct Account, s protocol.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(acct, s)
}

// insertLocked appends a new entry. Must be called with mu held.
func (p *Pool) insertLocked(acct Account, s protocol.Session) error {
	if _, exists := p.byPhone[acct.Phone]; exists {
		return ErrDuplicatePhone
	}
	e := &entry{account: acct, session: s}
	p.entries = append(p.entries, e)
	p.byPhone[acct.Phone] = e
	p.logger.Info("account registered",
		"phone", acct.Phone,
		"label", acct.Label,
		"live", s != nil,
		"total_accounts", len(p.entries),
	)
	return nil
}

// Release drops an entry without closing its session or deleting its
// artifact. This is the cancellation path for provisional registrations;
// the caller owns whatever session it may have opened.
func (p *Pool) Release(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byPhone[phone]; !ok {
		return
	}
	p.detachLocked(phone)
	p.logger.Info("account released", "phone", phone, "total_accounts", len(p.entries))
}

// detachLocked removes the entry for phone from both structures and returns
// it. Must be called with mu held.
func (p *Pool) detachLocked(phone string) *entry {
	e := p.byPhone[phone]
	delete(p.byPhone, phone)
	for i, cand := range p.entries {
		if cand == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return e
}

// Removed reports the outcome of Remove. CleanupErr is non-nil when closing
// the session or deleting its artifact failed; the account is gone from the
// pool regardless.
type Removed struct {
	Account    Account
	CleanupErr error
}

// Remove detaches the account atomically, then closes its session and
// deletes the session artifact best-effort. No concurrent operation can
// observe a half-removed entry: once Remove returns the entry is absent even
// if cleanup failed.
func (p *Pool) Remove(phone string) (*Removed, error) {
	p.mu.Lock()
	if _, ok := p.byPhone[phone]; !ok {
		p.mu.Unlock()
		return nil, ErrNotFound
	}
	e := p.detachLocked(phone)
	remaining := len(p.entries)
	p.mu.Unlock()

	res := &Removed{Account: e.account}
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			res.CleanupErr = fmt.Errorf("closing session: %w", err)
		}
	}
	artifact := p.SessionPath(e.account.Label)
	if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
		if res.CleanupErr == nil {
			res.CleanupErr = fmt.Errorf("deleting session artifact: %w", err)
		}
	}

	p.logger.Info("account removed",
		"phone", phone,
		"total_accounts", remaining,
		"cleanup_err", res.CleanupErr,
	)
	return res, nil
}

// List returns all accounts in insertion order, including provisional ones.
func (p *Pool) List() []Account {
	p.mu.RLock()
	defer p.mu.RUnlock()

	accounts := make([]Account, 0, len(p.entries))
	for _, e := range p.entries {
		accounts = append(accounts, e.account)
	}
	return accounts
}

// Primary returns the first-added live session, used as the default for
// scans and single-session resolution. The boolean is false when no live
// session exists; callers treat that as "no accounts configured".
func (p *Pool) Primary() (protocol.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, e := range p.entries {
		if e.session != nil {
			return e.session, true
		}
	}
	return nil, false
}

// ForEach calls fn for every live session in insertion order. It iterates a
// snapshot taken at call time, so the pool may change while fn runs; fn must
// not call back into pool mutation for the same phone.
func (p *Pool) ForEach(fn func(phone string, s protocol.Session)) {
	p.mu.RLock()
	snapshot := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.session != nil {
			snapshot = append(snapshot, e)
		}
	}
	p.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.account.Phone, e.session)
	}
}

// Len returns the number of registered accounts, provisional included.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// CloseAll closes every live session. Called during shutdown; failures are
// logged, not escalated.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	snapshot := p.entries
	p.entries = nil
	p.byPhone = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range snapshot {
		if e.session == nil {
			continue
		}
		if err := e.session.Close(); err != nil {
			p.logger.Warn("closing session during shutdown", "phone", e.account.Phone, "error", err)
		}
	}
}
