// ABOUTME: Directory operations: participant scans and fan-out username resolution.
// ABOUTME: Each pooled account reports independently; the index learns from matches.

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/2389/warden/internal/pool"
	"github.com/2389/warden/internal/protocol"
)

// ErrNoSessions indicates no live session is available to serve a directory
// operation.
var ErrNoSessions = errors.New("no sessions configured")

// scanLimit bounds how many recent participants a single scan fetches.
const scanLimit = 200

// ResolveStatus classifies one account's outcome in a resolution fan-out.
type ResolveStatus int

const (
	StatusAccessible ResolveStatus = iota
	StatusNotFound
	StatusRateLimited
	StatusError
)

// ResolveResult is one account's verdict on a username.
type ResolveResult struct {
	Phone  string
	Status ResolveStatus
	ID     int64
	Wait   int // seconds to wait when rate limited
	Err    error
}

// Service performs directory operations against the session pool.
type Service struct {
	pool   *pool.Pool
	index  *Index
	logger *slog.Logger
}

// NewService creates a directory service.
func NewService(p *pool.Pool, index *Index, logger *slog.Logger) *Service {
	return &Service{
		pool:   p,
		index:  index,
		logger: logger.With("component", "directory"),
	}
}

// Scan fetches recent participants of a channel through the primary session
// and records every observed username in the index. Returns the count
// recorded.
func (s *Service) Scan(ctx context.Context, channel string) (int, error) {
	primary, ok := s.pool.Primary()
	if !ok {
		return 0, ErrNoSessions
	}

	members, err := primary.RecentParticipants(ctx, channel, scanLimit)
	if err != nil {
		return 0, fmt.Errorf("scanning %s: %w", channel, err)
	}

	count := s.index.RecordScan(members)
	s.logger.Info("scan completed", "channel", channel, "participants", len(members), "recorded", count)
	return count, nil
}

// Resolve checks a username against every live session and returns one
// result per account, in pool order. One account being rate limited or
// failing never affects the others. The index is updated only from accounts
// that saw a match.
func (s *Service) Resolve(ctx context.Context, username string) []ResolveResult {
	username = strings.TrimPrefix(username, "@")

	var results []ResolveResult
	s.pool.ForEach(func(phone string, sess protocol.Session) {
		res := ResolveResult{Phone: phone}

		identity, found, err := sess.ResolveUsername(ctx, username)
		switch {
		case err != nil:
			if rl, ok := protocol.AsRateLimit(err); ok {
				res.Status = StatusRateLimited
				res.Wait = int(rl.Wait.Seconds())
			} else {
				res.Status = StatusError
				res.Err = err
			}
		case found:
			res.Status = StatusAccessible
			res.ID = identity.ID
			s.index.Record(username, identity.ID)
		default:
			res.Status = StatusNotFound
		}
		results = append(results, res)
	})
	return results
}

// ResolveTarget turns a command target into a numeric user ID. Accepts a
// plain integer or an @username resolved through the primary session.
func (s *Service) ResolveTarget(ctx context.Context, target string) (int64, error) {
	if !strings.HasPrefix(target, "@") {
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid target %q: provide a user ID or @username", target)
		}
		return id, nil
	}

	username := strings.TrimPrefix(target, "@")
	primary, ok := s.pool.Primary()
	if !ok {
		return 0, ErrNoSessions
	}

	identity, found, err := primary.ResolveUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", target, err)
	}
	if !found {
		return 0, fmt.Errorf("username %s not found", target)
	}
	s.index.Record(username, identity.ID)
	return identity.ID, nil
}
