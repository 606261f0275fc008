// ABOUTME: Pure authorization predicate over the static admin set and grant registry.
// ABOUTME: No side effects, no I/O.

package access

// Level is the privilege a command requires.
type Level int

const (
	// AdminOnly passes only for users in the static admin set.
	AdminOnly Level = iota
	// AdminOrGranted also passes for users holding an active grant.
	AdminOrGranted
)

// Authorizer decides whether a user may perform an action at a given level.
type Authorizer struct {
	admins map[int64]struct{}
	grants *Registry
}

// NewAuthorizer creates an authorizer from the configured admin IDs and the
// grant registry.
func NewAuthorizer(adminIDs []int64, grants *Registry) *Authorizer {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Authorizer{admins: admins, grants: grants}
}

// IsAdmin reports whether the user is in the static admin set.
func (a *Authorizer) IsAdmin(userID int64) bool {
	_, ok := a.admins[userID]
	return ok
}

// IsAuthorized reports whether the user passes the required level.
func (a *Authorizer) IsAuthorized(userID int64, level Level) bool {
	if a.IsAdmin(userID) {
		return true
	}
	return level == AdminOrGranted && a.grants.IsGranted(userID)
}
