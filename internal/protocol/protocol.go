// ABOUTME: Boundary types and interfaces for the messaging-network protocol client.
// ABOUTME: Everything network-facing is consumed through Factory and Session.

package protocol

import "context"

// Credentials identifies an API application to the messaging network.
type Credentials struct {
	APIID   int
	APIHash string
}

// Proxy describes an optional outbound proxy for a session.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Identity is a resolved network user.
type Identity struct {
	ID       int64
	Username string
	Phone    string
}

// Member is a channel participant observed during a scan.
type Member struct {
	ID       int64
	Username string
}

// CodeHandle is the opaque token returned by SendCode. It is only valid for
// a sign-in attempt on the same Session that issued it.
type CodeHandle string

// Session is a single authenticated (or authenticating) connection to the
// messaging network. Implementations are expected to be safe for use from
// one goroutine at a time; the pool serializes access.
type Session interface {
	// SendCode requests a verification code for the given phone number.
	SendCode(ctx context.Context, phone string) (CodeHandle, error)

	// SignIn completes authentication with the code the user received.
	// Returns ErrTwoFactorRequired when the account has two-step
	// verification enabled, which this system does not support.
	SignIn(ctx context.Context, phone, code string, handle CodeHandle) (Identity, error)

	// ResolveUsername looks up a username on the network. The boolean is
	// false when the username is not accessible from this session.
	ResolveUsername(ctx context.Context, username string) (Identity, bool, error)

	// RecentParticipants enumerates recently active members of a channel.
	RecentParticipants(ctx context.Context, channel string, limit int) ([]Member, error)

	// Close disconnects the session. Safe to call on a session that never
	// finished authenticating.
	Close() error
}

// Factory opens sessions. sessionPath names the durable credential artifact
// the driver should create or reuse for this account.
type Factory interface {
	Open(ctx context.Context, phone string, creds Credentials, proxy *Proxy, sessionPath string) (Session, error)
}
