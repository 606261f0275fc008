// ABOUTME: Tests for the command router: authorization, dispatch, and reply text.
// ABOUTME: Uses the fake protocol driver and a temp SQLite audit store.

package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/access"
	"github.com/2389/warden/internal/directory"
	"github.com/2389/warden/internal/onboarding"
	"github.com/2389/warden/internal/pool"
	"github.com/2389/warden/internal/protocol"
	"github.com/2389/warden/internal/protocol/protocolfake"
	"github.com/2389/warden/internal/store"
)

const (
	adminID    = int64(1)
	outsiderID = int64(99)
)

type fixture struct {
	router *Router
	pool   *pool.Pool
	grants *access.Registry
	fake   *protocolfake.Factory
	index  *directory.Index
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fake := protocolfake.New()
	p := pool.New(t.TempDir(), logger)
	idx := directory.NewIndex()
	dir := directory.NewService(p, idx, logger)
	grants := access.NewRegistry(logger)
	auth := access.NewAuthorizer([]int64{adminID}, grants)
	flows := onboarding.NewManager(p, fake, logger)

	actions, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = actions.Close() })

	return &fixture{
		router: NewRouter(p, flows, grants, auth, dir, actions, logger),
		pool:   p,
		grants: grants,
		fake:   fake,
		index:  idx,
	}
}

func (f *fixture) addAccount(t *testing.T, phone string) {
	t.Helper()
	s, err := f.fake.Open(context.Background(), phone, protocol.Credentials{APIID: 1, APIHash: "h"}, nil, "")
	require.NoError(t, err)
	require.NoError(t, f.pool.Add(pool.Account{Phone: phone, Label: "lbl_" + phone}, s))
}

func TestRouter_Unauthorized(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for _, cmd := range []string{"/accounts", "/add", "/remove +1", "/scan c", "/resolve @a", "/grant 2 1 week", "/revoke 2", "/drills", "/start", "/help"} {
		reply := f.router.Handle(ctx, outsiderID, cmd)
		assert.Equal(t, notAuthorized, reply, cmd)
	}
}

func TestRouter_GrantedUserGetsMenuButNotAdminCommands(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.grants.Grant(outsiderID, "1 hour")
	require.NoError(t, err)

	assert.Contains(t, f.router.Handle(ctx, outsiderID, "/start"), "choose an action")
	assert.Contains(t, f.router.Handle(ctx, outsiderID, "/drill something"), "Drill logged")
	assert.Equal(t, notAuthorized, f.router.Handle(ctx, outsiderID, "/accounts"))
	assert.Equal(t, notAuthorized, f.router.Handle(ctx, outsiderID, "/grant 5 1 week"))
}

func TestRouter_Accounts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Equal(t, "No accounts registered.", f.router.Handle(ctx, adminID, "/accounts"))

	f.addAccount(t, "+100")
	reply := f.router.Handle(ctx, adminID, "/accounts")
	assert.Contains(t, reply, "+100")
	assert.Contains(t, reply, "lbl_+100")
	assert.Contains(t, reply, "no proxy")
}

func TestRouter_OnboardingThroughCommands(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	reply := f.router.Handle(ctx, adminID, "/add")
	assert.Contains(t, reply, "phone number")

	for _, in := range []string{"+15550001", "7", "hash", "label"} {
		reply = f.router.Handle(ctx, adminID, in)
	}
	assert.Contains(t, reply, "Code sent to +15550001")

	reply = f.router.Handle(ctx, adminID, "12345")
	assert.Equal(t, "Successfully added account +15550001.", reply)
	assert.Len(t, f.pool.List(), 1)
}

func TestRouter_FreeTextWithoutFlowIsIgnored(t *testing.T) {
	f := setup(t)
	reply := f.router.Handle(context.Background(), adminID, "just chatting")
	assert.Empty(t, reply)
}

func TestRouter_Cancel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Equal(t, "No active operation.", f.router.Handle(ctx, adminID, "/cancel"))

	f.router.Handle(ctx, adminID, "/add")
	assert.Equal(t, "Operation cancelled.", f.router.Handle(ctx, adminID, "/cancel"))
	assert.Empty(t, f.pool.List())
}

func TestRouter_Remove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, adminID, "/remove"), "Usage:")
	assert.Equal(t, "Account not found.", f.router.Handle(ctx, adminID, "/remove +404"))

	f.addAccount(t, "+100")
	assert.Equal(t, "Removed account +100.", f.router.Handle(ctx, adminID, "/remove +100"))
	assert.Empty(t, f.pool.List())
}

func TestRouter_Scan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, adminID, "/scan ops"), "No accounts are configured")

	f.addAccount(t, "+100")
	f.fake.Participants["ops"] = []protocol.Member{{ID: 5, Username: "eve"}}

	assert.Equal(t, "Scanned and mapped 1 usernames from ops.", f.router.Handle(ctx, adminID, "/scan ops"))
	id, ok := f.index.Lookup("eve")
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)
}

func TestRouter_Resolve(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.Users = []protocolfake.User{{ID: 7, Username: "alice"}}
	f.fake.ResolveErr = map[string]error{"+200": &protocol.RateLimitError{Wait: 30 * time.Second}}
	f.addAccount(t, "+100")
	f.addAccount(t, "+200")

	reply := f.router.Handle(ctx, adminID, "/resolve @alice")
	assert.Contains(t, reply, "+100: accessible (id=7)")
	assert.Contains(t, reply, "+200: rate limited, wait 30s")
}

func TestRouter_GrantAndRevoke(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, adminID, "/grant"), "Usage:")

	reply := f.router.Handle(ctx, adminID, "/grant 42 1 week")
	assert.Contains(t, reply, "Granted elevated access to 42")
	assert.True(t, f.grants.IsGranted(42))

	reply = f.router.Handle(ctx, adminID, "/grant 42 10 bogus")
	assert.Contains(t, reply, "Invalid duration")
	assert.True(t, f.grants.IsGranted(42), "failed grant leaves prior grant")

	assert.Contains(t, f.router.Handle(ctx, adminID, "/revoke 42"), "Removed elevated access")
	assert.False(t, f.grants.IsGranted(42))
	assert.Equal(t, "That user has no active grant.", f.router.Handle(ctx, adminID, "/revoke 42"))
}

func TestRouter_GrantByUsername(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.fake.Users = []protocolfake.User{{ID: 55, Username: "carol"}}
	f.addAccount(t, "+100")

	reply := f.router.Handle(ctx, adminID, "/grant @carol 1 day")
	assert.Contains(t, reply, "55")
	assert.True(t, f.grants.IsGranted(55))

	reply = f.router.Handle(ctx, adminID, "/grant @nobody 1 day")
	assert.Contains(t, reply, "Error resolving target")
}

func TestRouter_DrillsAndCounts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Equal(t, "No drills logged yet.", f.router.Handle(ctx, adminID, "/drills"))

	f.router.Handle(ctx, adminID, "/drill first target")
	f.router.Handle(ctx, adminID, "/drill second target")

	reply := f.router.Handle(ctx, adminID, "/drills")
	assert.Contains(t, reply, "1: 2")
}

func TestRouter_UnknownCommand(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Contains(t, f.router.Handle(ctx, adminID, "/bogus"), "Unknown command")
	// Unknown commands from strangers stay silent.
	assert.Empty(t, f.router.Handle(ctx, outsiderID, "/bogus"))
}
