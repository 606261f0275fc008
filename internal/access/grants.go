// ABOUTME: Registry of time-bounded elevated-access grants with a background sweep.
// ABOUTME: Grants are keyed by user ID; the sweep revokes expired ones and notifies.

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidDuration indicates a grant duration that could not be parsed.
var ErrInvalidDuration = errors.New("invalid duration")

// ErrNoGrant indicates the user has no active grant to revoke.
var ErrNoGrant = errors.New("user has no active grant")

// durationUnits maps accepted unit names to their fixed multiplier in
// seconds. A month is a 30-day equivalent.
var durationUnits = map[string]int64{
	"second": 1, "seconds": 1,
	"minute": 60, "minutes": 60,
	"hour": 3600, "hours": 3600,
	"day": 86400, "days": 86400,
	"week": 604800, "weeks": 604800,
	"month": 2592000, "months": 2592000,
}

// ParseDuration parses a unit-qualified quantity such as "1 week" or
// "30 minutes" into a time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	parts := strings.Fields(strings.ToLower(s))
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: expected \"<amount> <unit>\", got %q", ErrInvalidDuration, s)
	}
	amount, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not an integer", ErrInvalidDuration, parts[0])
	}
	mult, ok := durationUnits[parts[1]]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidDuration, parts[1])
	}
	return time.Duration(amount*mult) * time.Second, nil
}

// Notifier delivers an expiry notice to a user. Failures are swallowed by
// the sweep; implementations should not retry forever.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Registry tracks active grants. Presence of a grant is authoritative for
// authorization: an expired grant counts as granted until the sweep removes
// it.
type Registry struct {
	mu     sync.Mutex
	grants map[int64]time.Time
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty grant registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		grants: make(map[int64]time.Time),
		now:    time.Now,
		logger: logger.With("component", "access"),
	}
}

// Grant elevates a user for the given unit-qualified duration and returns
// the expiry timestamp. An existing grant is overwritten (latest call wins,
// durations are not additive). An invalid duration mutates nothing.
func (r *Registry) Grant(userID int64, duration string) (time.Time, error) {
	d, err := ParseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	expiry := r.now().UTC().Add(d)
	r.grants[userID] = expiry
	r.logger.Info("grant issued", "user_id", userID, "expires", expiry)
	return expiry, nil
}

// Revoke removes a user's grant. Returns ErrNoGrant if none exists.
func (r *Registry) Revoke(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.grants[userID]; !ok {
		return ErrNoGrant
	}
	delete(r.grants, userID)
	r.logger.Info("grant revoked", "user_id", userID)
	return nil
}

// IsGranted reports whether the user currently holds a grant. This is a
// pure presence check: expiry is enforced by the sweep, not here.
func (r *Registry) IsGranted(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.grants[userID]
	return ok
}

// Len returns the number of active grants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grants)
}

// RunSweep revokes expired grants on a fixed interval until ctx is
// cancelled. Expired users are notified best-effort; a notification failure
// never aborts the remaining revocations in a tick. Blocks; run in a
// goroutine.
func (r *Registry) RunSweep(ctx context.Context, interval time.Duration, n Notifier) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("grant sweep started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("grant sweep stopped")
			return
		case <-ticker.C:
			r.sweepOnce(ctx, n)
		}
	}
}

// sweepOnce removes every grant whose expiry is at or before now, then
// notifies the affected users outside the lock.
func (r *Registry) sweepOnce(ctx context.Context, n Notifier) {
	r.mu.Lock()
	now := r.now().UTC()
	var expired []int64
	for userID, expiry := range r.grants {
		if !expiry.After(now) {
			expired = append(expired, userID)
			delete(r.grants, userID)
		}
	}
	r.mu.Unlock()

	for _, userID := range expired {
		r.logger.Info("grant expired", "user_id", userID)
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, userID, "Your elevated access has expired."); err != nil {
			r.logger.Warn("expiry notification failed", "user_id", userID, "error", err)
		}
	}
}
