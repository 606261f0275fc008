// ABOUTME: Scriptable in-memory protocol driver for tests and local development.
// ABOUTME: Behavior is configured per phone number; no network is involved.

package protocolfake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/2389/warden/internal/protocol"
)

// User is an identity present on the fake network.
type User struct {
	ID       int64
	Username string
}

// Factory implements protocol.Factory. Zero value is not usable; call New.
// All override maps are keyed by phone number and may be nil.
type Factory struct {
	mu sync.Mutex

	// Code is the verification code SignIn accepts. Defaults to "12345".
	Code string

	// OpenErr, SendCodeErr and SignInErr force failures for specific
	// accounts. SignInErr may be protocol.ErrTwoFactorRequired.
	OpenErr     map[string]error
	SendCodeErr map[string]error
	SignInErr   map[string]error

	// ResolveErr forces ResolveUsername failures for sessions opened for
	// the given phone, e.g. a *protocol.RateLimitError.
	ResolveErr map[string]error

	// Users is the network directory consulted by ResolveUsername.
	Users []User

	// Participants maps channel identifiers to their recent members.
	Participants map[string][]protocol.Member

	nextID int64
	opened []*Session
}

// New creates a fake factory with defaults.
func New() *Factory {
	return &Factory{
		Code:         "12345",
		Participants: make(map[string][]protocol.Member),
		nextID:       1000,
	}
}

// Open implements protocol.Factory.
func (f *Factory) Open(ctx context.Context, phone string, creds protocol.Credentials, proxy *protocol.Proxy, sessionPath string) (protocol.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.OpenErr[phone]; err != nil {
		return nil, err
	}
	s := &Session{factory: f, phone: phone, path: sessionPath}
	f.opened = append(f.opened, s)
	return s, nil
}

// Opened returns every session the factory has handed out, closed or not.
func (f *Factory) Opened() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.opened...)
}

// Session implements protocol.Session against the factory's scripted state.
type Session struct {
	factory *Factory
	phone   string
	path    string

	mu       sync.Mutex
	closed   bool
	signedIn bool
	handle   protocol.CodeHandle
}

// Phone returns the phone number the session was opened for.
func (s *Session) Phone() string { return s.phone }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SignedIn reports whether SignIn completed successfully.
func (s *Session) SignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedIn
}

// SendCode implements protocol.Session.
func (s *Session) SendCode(ctx context.Context, phone string) (protocol.CodeHandle, error) {
	s.factory.mu.Lock()
	err := s.factory.SendCodeErr[phone]
	s.factory.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = protocol.CodeHandle("code-" + phone)
	return s.handle, nil
}

// SignIn implements protocol.Session. The handle must be the one issued by
// this session's SendCode, mirroring the real driver's constraint.
func (s *Session) SignIn(ctx context.Context, phone, code string, handle protocol.CodeHandle) (protocol.Identity, error) {
	s.factory.mu.Lock()
	forced := s.factory.SignInErr[phone]
	accepted := s.factory.Code
	s.factory.nextID++
	id := s.factory.nextID
	s.factory.mu.Unlock()

	if forced != nil {
		return protocol.Identity{}, forced
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if handle == "" || handle != s.handle {
		return protocol.Identity{}, fmt.Errorf("code handle does not match this session")
	}
	if code != accepted {
		return protocol.Identity{}, fmt.Errorf("verification code rejected")
	}
	s.signedIn = true
	return protocol.Identity{ID: id, Phone: phone}, nil
}

// ResolveUsername implements protocol.Session.
func (s *Session) ResolveUsername(ctx context.Context, username string) (protocol.Identity, bool, error) {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()

	if err := s.factory.ResolveErr[s.phone]; err != nil {
		return protocol.Identity{}, false, err
	}
	for _, u := range s.factory.Users {
		if strings.EqualFold(u.Username, username) {
			return protocol.Identity{ID: u.ID, Username: u.Username}, true, nil
		}
	}
	return protocol.Identity{}, false, nil
}

// RecentParticipants implements protocol.Session.
func (s *Session) RecentParticipants(ctx context.Context, channel string, limit int) ([]protocol.Member, error) {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()

	members, ok := s.factory.Participants[channel]
	if !ok {
		return nil, fmt.Errorf("channel %q not found", channel)
	}
	if len(members) > limit {
		members = members[:limit]
	}
	return append([]protocol.Member(nil), members...), nil
}

// Close implements protocol.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
