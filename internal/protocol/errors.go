// ABOUTME: Error taxonomy for protocol operations.
// ABOUTME: Distinguishes expected outcomes (2FA, rate limits) from plain failures.

package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrTwoFactorRequired indicates the account has two-step verification
// enabled. It is an expected outcome of SignIn, not a bug condition.
var ErrTwoFactorRequired = errors.New("two-step verification required")

// RateLimitError is returned when the network throttles an operation and
// advertises how long to wait before retrying.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.Wait)
}

// AsRateLimit reports whether err is (or wraps) a RateLimitError.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
