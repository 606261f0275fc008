// ABOUTME: Tests for the authorization predicate.
// ABOUTME: Covers admin set membership and grant-backed elevation.

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizer_AdminOnly(t *testing.T) {
	grants := NewRegistry(testLogger())
	auth := NewAuthorizer([]int64{1, 2}, grants)

	assert.True(t, auth.IsAuthorized(1, AdminOnly))
	assert.False(t, auth.IsAuthorized(3, AdminOnly))

	// A grant does not satisfy AdminOnly.
	_, err := grants.Grant(3, "1 hour")
	require.NoError(t, err)
	assert.False(t, auth.IsAuthorized(3, AdminOnly))
}

func TestAuthorizer_AdminOrGranted(t *testing.T) {
	grants := NewRegistry(testLogger())
	auth := NewAuthorizer([]int64{1}, grants)

	assert.True(t, auth.IsAuthorized(1, AdminOrGranted))
	assert.False(t, auth.IsAuthorized(3, AdminOrGranted))

	_, err := grants.Grant(3, "1 hour")
	require.NoError(t, err)
	assert.True(t, auth.IsAuthorized(3, AdminOrGranted))

	require.NoError(t, grants.Revoke(3))
	assert.False(t, auth.IsAuthorized(3, AdminOrGranted))
}
