// ABOUTME: Per-user state machine for provisioning a new account interactively.
// ABOUTME: Every non-success exit rolls back the provisional pool registration.

package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/warden/internal/pool"
	"github.com/2389/warden/internal/protocol"
)

// Step identifies the field a flow is waiting for. Transitions are strictly
// forward; the only way back is cancellation.
type Step int

const (
	StepPhone Step = iota
	StepAPIID
	StepAPIHash
	StepLabel
	StepCode
)

// flow is the transient state for one user's provisioning attempt. It is
// owned exclusively by that user's interaction context; the manager map is
// the only shared structure.
type flow struct {
	step     Step
	account  pool.Account
	reserved bool
	session  protocol.Session
	handle   protocol.CodeHandle
	started  time.Time
}

// Manager drives onboarding flows, at most one per requesting user.
// Starting a new flow discards any prior incomplete one (latest wins, no
// merge).
type Manager struct {
	mu      sync.Mutex
	flows   map[int64]*flow
	pool    *pool.Pool
	factory protocol.Factory
	logger  *slog.Logger
}

// NewManager creates a flow manager.
func NewManager(p *pool.Pool, f protocol.Factory, logger *slog.Logger) *Manager {
	return &Manager{
		flows:   make(map[int64]*flow),
		pool:    p,
		factory: f,
		logger:  logger.With("component", "onboarding"),
	}
}

// Begin starts a flow for the user and returns the first prompt. Any prior
// incomplete flow is rolled back and discarded.
func (m *Manager) Begin(userID int64) string {
	m.mu.Lock()
	prior := m.flows[userID]
	m.flows[userID] = &flow{step: StepPhone, started: time.Now()}
	m.mu.Unlock()

	if prior != nil {
		m.rollback(prior)
		m.logger.Info("replaced in-progress flow", "user_id", userID)
	}
	return "Enter the phone number (e.g. +1234567890):"
}

// Active reports whether the user has a flow in progress.
func (m *Manager) Active(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.flows[userID]
	return ok
}

// Cancel discards the user's flow, releasing any provisional account and
// closing any opened session. Returns false if no flow was active.
func (m *Manager) Cancel(userID int64) bool {
	m.mu.Lock()
	fl, ok := m.flows[userID]
	delete(m.flows, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.rollback(fl)
	m.logger.Info("flow cancelled", "user_id", userID, "step", fl.step)
	return true
}

// rollback undoes a flow's side effects: the provisional pool entry and the
// not-yet-admitted session. It never touches the network beyond Close.
func (m *Manager) rollback(fl *flow) {
	if fl.reserved {
		m.pool.Release(fl.account.Phone)
	}
	if fl.session != nil {
		if err := fl.session.Close(); err != nil {
			m.logger.Warn("closing abandoned session", "phone", fl.account.Phone, "error", err)
		}
	}
}

// Input feeds one free-text message into the user's flow. The boolean is
// false when the user has no active flow and the text should be ignored.
//
// Steps for a given user are strictly sequential: the transport serializes
// messages per sender, so the flow struct is never touched concurrently. The
// manager lock is held only around map access and pool transitions, never
// across a protocol call.
func (m *Manager) Input(ctx context.Context, userID int64, text string) (string, bool) {
	m.mu.Lock()
	fl, ok := m.flows[userID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}

	text = strings.TrimSpace(text)
	switch fl.step {
	case StepPhone:
		return m.stepPhone(fl, text), true
	case StepAPIID:
		return m.stepAPIID(fl, text), true
	case StepAPIHash:
		return m.stepAPIHash(fl, text), true
	case StepLabel:
		return m.stepLabel(ctx, userID, fl, text), true
	case StepCode:
		return m.stepCode(ctx, userID, fl, text), true
	}
	return "", false
}

func (m *Manager) stepPhone(fl *flow, text string) string {
	if !strings.HasPrefix(text, "+") {
		return "Phone must start with '+'. Try again or /cancel."
	}
	fl.account.Phone = text
	fl.step = StepAPIID
	return "Enter the API ID (number):"
}

func (m *Manager) stepAPIID(fl *flow, text string) string {
	apiID, err := strconv.Atoi(text)
	if err != nil {
		return "API ID must be a number. Try again or /cancel."
	}
	fl.account.Credentials.APIID = apiID
	fl.step = StepAPIHash
	return "Enter the API hash:"
}

func (m *Manager) stepAPIHash(fl *flow, text string) string {
	if text == "" {
		return "API hash cannot be empty. Try again or /cancel."
	}
	fl.account.Credentials.APIHash = text
	fl.step = StepLabel
	return "Enter a session label (e.g. session_2):"
}

// stepLabel provisionally registers the account, opens a connection, and
// requests a verification code. The code request and the eventual sign-in
// must run on the same connection, so the session is kept on the flow. Any
// failure here aborts the flow entirely; it is not retryable in place.
func (m *Manager) stepLabel(ctx context.Context, userID int64, fl *flow, text string) string {
	if text == "" {
		return "Session label cannot be empty. Try again or /cancel."
	}
	fl.account.Label = text

	if err := m.pool.Reserve(fl.account); err != nil {
		m.abort(userID)
		if errors.Is(err, pool.ErrDuplicatePhone) {
			return fmt.Sprintf("An account for %s already exists.", fl.account.Phone)
		}
		return fmt.Sprintf("Failed to register account: %v", err)
	}
	fl.reserved = true

	sess, err := m.factory.Open(ctx, fl.account.Phone, fl.account.Credentials, fl.account.Proxy, m.pool.SessionPath(fl.account.Label))
	if err != nil {
		m.abortRollback(userID, fl)
		return fmt.Sprintf("Failed to connect: %v", err)
	}
	fl.session = sess

	handle, err := sess.SendCode(ctx, fl.account.Phone)
	if err != nil {
		m.abortRollback(userID, fl)
		return fmt.Sprintf("Failed to send code: %v", err)
	}
	fl.handle = handle
	fl.step = StepCode
	return fmt.Sprintf("Code sent to %s. Enter the code:", fl.account.Phone)
}

// stepCode attempts sign-in. On success the session is admitted into the
// pool; every other outcome rolls back the provisional registration.
func (m *Manager) stepCode(ctx context.Context, userID int64, fl *flow, text string) string {
	identity, err := fl.session.SignIn(ctx, fl.account.Phone, text, fl.handle)
	if err != nil {
		m.abortRollback(userID, fl)
		if errors.Is(err, protocol.ErrTwoFactorRequired) {
			return "Two-step verification is enabled for this account; it cannot be added through this flow."
		}
		return fmt.Sprintf("Failed to sign in: %v", err)
	}

	if err := m.pool.Attach(fl.account.Phone, fl.session); err != nil {
		// The reservation vanished underneath us (e.g. removed by an
		// operator mid-flow). Treat as an aborted flow.
		m.abortRollback(userID, fl)
		return fmt.Sprintf("Failed to admit account: %v", err)
	}

	m.mu.Lock()
	delete(m.flows, userID)
	m.mu.Unlock()

	m.logger.Info("account onboarded", "user_id", userID, "phone", fl.account.Phone, "network_id", identity.ID)
	return fmt.Sprintf("Successfully added account %s.", fl.account.Phone)
}

// abort drops the flow without rollback (nothing to roll back yet).
func (m *Manager) abort(userID int64) {
	m.mu.Lock()
	delete(m.flows, userID)
	m.mu.Unlock()
}

// abortRollback drops the flow and undoes its side effects.
func (m *Manager) abortRollback(userID int64, fl *flow) {
	m.abort(userID)
	m.rollback(fl)
}
