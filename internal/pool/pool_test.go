// ABOUTME: Tests for the session pool covering admission, removal, and ordering.
// ABOUTME: Validates duplicate rejection, atomic detach, and snapshot iteration.

package pool

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warden/internal/protocol"
	"github.com/2389/warden/internal/protocol/protocolfake"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return New(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func openSession(t *testing.T, f *protocolfake.Factory, phone string) protocol.Session {
	t.Helper()
	s, err := f.Open(context.Background(), phone, protocol.Credentials{APIID: 1, APIHash: "h"}, nil, "")
	require.NoError(t, err)
	return s
}

func TestPool_Add_Duplicate(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	require.NoError(t, p.Add(Account{Phone: "+100", Label: "a"}, openSession(t, f, "+100")))

	err := p.Add(Account{Phone: "+100", Label: "b"}, openSession(t, f, "+100"))
	assert.ErrorIs(t, err, ErrDuplicatePhone)

	// Pool unchanged: one account, original label.
	accounts := p.List()
	require.Len(t, accounts, 1)
	assert.Equal(t, "a", accounts[0].Label)
}

func TestPool_List_InsertionOrder(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	for _, phone := range []string{"+1", "+2", "+3"} {
		require.NoError(t, p.Add(Account{Phone: phone, Label: phone}, openSession(t, f, phone)))
	}

	accounts := p.List()
	require.Len(t, accounts, 3)
	assert.Equal(t, "+1", accounts[0].Phone)
	assert.Equal(t, "+2", accounts[1].Phone)
	assert.Equal(t, "+3", accounts[2].Phone)
}

func TestPool_Primary_FirstLiveSession(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	_, ok := p.Primary()
	assert.False(t, ok, "empty pool has no primary")

	// A provisional account alone does not provide a primary.
	require.NoError(t, p.Reserve(Account{Phone: "+1", Label: "one"}))
	_, ok = p.Primary()
	assert.False(t, ok)

	first := openSession(t, f, "+2")
	require.NoError(t, p.Add(Account{Phone: "+2", Label: "two"}, first))
	require.NoError(t, p.Add(Account{Phone: "+3", Label: "three"}, openSession(t, f, "+3")))

	got, ok := p.Primary()
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestPool_ReserveAttach(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	require.NoError(t, p.Reserve(Account{Phone: "+9", Label: "nine"}))
	assert.ErrorIs(t, p.Reserve(Account{Phone: "+9"}), ErrDuplicatePhone)

	// Provisional entries are listed but not iterated as live sessions.
	assert.Equal(t, 1, p.Len())
	var live int
	p.ForEach(func(string, protocol.Session) { live++ })
	assert.Zero(t, live)

	require.NoError(t, p.Attach("+9", openSession(t, f, "+9")))
	p.ForEach(func(string, protocol.Session) { live++ })
	assert.Equal(t, 1, live)

	assert.ErrorIs(t, p.Attach("+404", openSession(t, f, "+404")), ErrNotFound)
}

func TestPool_Release(t *testing.T) {
	p := newTestPool(t)

	require.NoError(t, p.Reserve(Account{Phone: "+9", Label: "nine"}))
	p.Release("+9")
	assert.Empty(t, p.List())

	// Releasing an unknown phone is a no-op.
	p.Release("+9")
	assert.Empty(t, p.List())
}

func TestPool_Remove_NotFound(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()
	require.NoError(t, p.Add(Account{Phone: "+1", Label: "one"}, openSession(t, f, "+1")))

	_, err := p.Remove("+404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, p.Len())
}

func TestPool_Remove_ClosesSessionAndDeletesArtifact(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	sess := openSession(t, f, "+1")
	require.NoError(t, p.Add(Account{Phone: "+1", Label: "one"}, sess))

	artifact := p.SessionPath("one")
	require.NoError(t, os.WriteFile(artifact, []byte("session material"), 0600))

	removed, err := p.Remove("+1")
	require.NoError(t, err)
	assert.NoError(t, removed.CleanupErr)
	assert.Equal(t, "+1", removed.Account.Phone)
	assert.Empty(t, p.List())

	fake := sess.(*protocolfake.Session)
	assert.True(t, fake.Closed())

	_, statErr := os.Stat(artifact)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPool_Remove_CleanupFailureStillRemoves(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	f := protocolfake.New()

	require.NoError(t, p.Add(Account{Phone: "+1", Label: "one"}, openSession(t, f, "+1")))

	// Make the artifact undeletable by turning its path into a non-empty
	// directory.
	artifact := p.SessionPath("one")
	require.NoError(t, os.MkdirAll(filepath.Join(artifact, "inner"), 0755))

	removed, err := p.Remove("+1")
	require.NoError(t, err)
	assert.Error(t, removed.CleanupErr)

	// The entry is gone even though cleanup failed.
	assert.Empty(t, p.List())
	_, err = p.Remove("+1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPool_ForEach_Snapshot(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	for _, phone := range []string{"+1", "+2"} {
		require.NoError(t, p.Add(Account{Phone: phone, Label: phone}, openSession(t, f, phone)))
	}

	// Mutating the pool mid-iteration must not deadlock or affect the
	// snapshot already taken.
	var seen []string
	p.ForEach(func(phone string, _ protocol.Session) {
		seen = append(seen, phone)
		if phone == "+1" {
			_, _ = p.Remove("+2")
		}
	})
	assert.Equal(t, []string{"+1", "+2"}, seen)
	assert.Equal(t, 1, p.Len())
}

func TestPool_CloseAll(t *testing.T) {
	p := newTestPool(t)
	f := protocolfake.New()

	sessions := make([]protocol.Session, 0, 2)
	for _, phone := range []string{"+1", "+2"} {
		s := openSession(t, f, phone)
		sessions = append(sessions, s)
		require.NoError(t, p.Add(Account{Phone: phone, Label: phone}, s))
	}

	p.CloseAll()
	assert.Zero(t, p.Len())
	for _, s := range sessions {
		assert.True(t, s.(*protocolfake.Session).Closed())
	}
}
