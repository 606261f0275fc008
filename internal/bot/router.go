// ABOUTME: Dispatches parsed commands to the control-plane components.
// ABOUTME: Authorizes each command and converts every error to reply text.

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/warden/internal/access"
	"github.com/2389/warden/internal/directory"
	"github.com/2389/warden/internal/onboarding"
	"github.com/2389/warden/internal/pool"
	"github.com/2389/warden/internal/store"
)

// drillAction is the audit action name recorded by /drill.
const drillAction = "drill"

const notAuthorized = "You are not authorized to use this command."

// Router turns inbound chat events into control-plane operations. All
// errors stop at this boundary as reply text; nothing propagates to the
// transport loop.
type Router struct {
	pool      *pool.Pool
	flows     *onboarding.Manager
	grants    *access.Registry
	auth      *access.Authorizer
	directory *directory.Service
	actions   *store.Store
	logger    *slog.Logger
}

// NewRouter wires a router from the control-plane components.
func NewRouter(
	p *pool.Pool,
	flows *onboarding.Manager,
	grants *access.Registry,
	auth *access.Authorizer,
	dir *directory.Service,
	actions *store.Store,
	logger *slog.Logger,
) *Router {
	return &Router{
		pool:      p,
		flows:     flows,
		grants:    grants,
		auth:      auth,
		directory: dir,
		actions:   actions,
		logger:    logger.With("component", "router"),
	}
}

// Handle processes one message from a sender and returns the reply text.
// An empty reply means nothing should be sent.
func (r *Router) Handle(ctx context.Context, sender int64, text string) string {
	cmd := Parse(text)

	// Free text belongs to the sender's onboarding flow, if any.
	if msg, ok := cmd.(TextMessage); ok {
		reply, handled := r.flows.Input(ctx, sender, msg.Text)
		if !handled {
			return ""
		}
		return reply
	}

	level, known := requiredLevel(cmd)
	if !known {
		if r.auth.IsAuthorized(sender, access.AdminOrGranted) {
			return "Unknown command. Use /help."
		}
		return ""
	}
	if !r.auth.IsAuthorized(sender, level) {
		r.logger.Warn("unauthorized command", "sender", sender, "command", fmt.Sprintf("%T", cmd))
		return notAuthorized
	}

	switch c := cmd.(type) {
	case MenuCommand:
		return r.menu()
	case HelpCommand:
		return r.help()
	case AccountsCommand:
		return r.listAccounts()
	case AddCommand:
		return r.flows.Begin(sender)
	case RemoveCommand:
		return r.removeAccount(ctx, sender, c)
	case CancelCommand:
		if r.flows.Cancel(sender) {
			return "Operation cancelled."
		}
		return "No active operation."
	case ScanCommand:
		return r.scan(ctx, c)
	case ResolveCommand:
		return r.resolve(ctx, c)
	case GrantCommand:
		return r.grant(ctx, sender, c)
	case RevokeCommand:
		return r.revoke(ctx, sender, c)
	case DrillCommand:
		return r.drill(ctx, sender, c)
	case DrillCountCommand:
		return r.drillCounts(ctx)
	}
	return ""
}

// requiredLevel maps each command to the privilege it needs.
func requiredLevel(cmd Command) (access.Level, bool) {
	switch cmd.(type) {
	case MenuCommand, HelpCommand, CancelCommand, DrillCommand:
		return access.AdminOrGranted, true
	case AccountsCommand, AddCommand, RemoveCommand, ScanCommand,
		ResolveCommand, GrantCommand, RevokeCommand, DrillCountCommand:
		return access.AdminOnly, true
	default:
		return 0, false
	}
}

func (r *Router) menu() string {
	return strings.Join([]string{
		"Account pool control plane - choose an action:",
		"/accounts - list registered accounts",
		"/add - add an account interactively",
		"/remove <phone> - delete an account",
		"/scan <channel> - map usernames from a channel",
		"/resolve @username - check a username across accounts",
		"/grant <idOr@name> <N> <unit> - timed elevated access",
		"/drill <description> - log-only drill entry",
	}, "\n")
}

func (r *Router) help() string {
	return strings.Join([]string{
		"Available commands:",
		"/start - show main menu",
		"/accounts - list registered accounts (admin)",
		"/add - add an account interactively (admin)",
		"/remove <phone> - delete an account (admin)",
		"/cancel - cancel the current operation",
		"/scan <channel> - scan recent participants into the index (admin)",
		"/resolve @username - check accessibility across accounts (admin)",
		"/grant <idOr@name> <amount> <unit> - grant elevated access (admin)",
		"/revoke <idOr@name> - remove elevated access (admin)",
		"/drill <description> - harmless log-only drill",
		"/drills - drill counts per performer (admin)",
	}, "\n")
}

func (r *Router) listAccounts() string {
	accounts := r.pool.List()
	if len(accounts) == 0 {
		return "No accounts registered."
	}

	var b strings.Builder
	b.WriteString("Registered accounts:\n")
	for _, a := range accounts {
		proxy := "no proxy"
		if a.Proxy != nil {
			proxy = fmt.Sprintf("%s:%d", a.Proxy.Host, a.Proxy.Port)
		}
		fmt.Fprintf(&b, "- %s (label: %s) [%s]\n", a.Phone, a.Label, proxy)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) removeAccount(ctx context.Context, sender int64, c RemoveCommand) string {
	if c.Phone == "" {
		return "Usage: /remove <phone> (e.g. /remove +1234567890)"
	}

	removed, err := r.pool.Remove(c.Phone)
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			return "Account not found."
		}
		return fmt.Sprintf("Failed to remove account: %v", err)
	}

	r.record(ctx, sender, "remove_account", c.Phone, "")
	if removed.CleanupErr != nil {
		return fmt.Sprintf("Removed account %s, but cleanup failed: %v", c.Phone, removed.CleanupErr)
	}
	return fmt.Sprintf("Removed account %s.", c.Phone)
}

func (r *Router) scan(ctx context.Context, c ScanCommand) string {
	if c.Channel == "" {
		return "Usage: /scan <channel>"
	}

	count, err := r.directory.Scan(ctx, c.Channel)
	if err != nil {
		if errors.Is(err, directory.ErrNoSessions) {
			return "No accounts are configured to perform scanning. Please add at least one account."
		}
		return fmt.Sprintf("Error scanning users: %v", err)
	}
	return fmt.Sprintf("Scanned and mapped %d usernames from %s.", count, c.Channel)
}

func (r *Router) resolve(ctx context.Context, c ResolveCommand) string {
	if c.Username == "" {
		return "Usage: /resolve @username"
	}

	results := r.directory.Resolve(ctx, c.Username)
	if len(results) == 0 {
		return "No accounts are configured to resolve usernames."
	}

	lines := make([]string, 0, len(results))
	for _, res := range results {
		switch res.Status {
		case directory.StatusAccessible:
			lines = append(lines, fmt.Sprintf("%s: accessible (id=%d)", res.Phone, res.ID))
		case directory.StatusNotFound:
			lines = append(lines, fmt.Sprintf("%s: not accessible or not found", res.Phone))
		case directory.StatusRateLimited:
			lines = append(lines, fmt.Sprintf("%s: rate limited, wait %ds", res.Phone, res.Wait))
		case directory.StatusError:
			lines = append(lines, fmt.Sprintf("%s: error - %v", res.Phone, res.Err))
		}
	}
	return strings.Join(lines, "\n")
}

func (r *Router) grant(ctx context.Context, sender int64, c GrantCommand) string {
	if c.Target == "" || c.Duration == "" {
		return "Usage: /grant <idOr@name> <amount> <unit> (e.g. /grant 123456789 1 week)"
	}

	target, err := r.directory.ResolveTarget(ctx, c.Target)
	if err != nil {
		return fmt.Sprintf("Error resolving target: %v", err)
	}

	expiry, err := r.grants.Grant(target, c.Duration)
	if err != nil {
		return fmt.Sprintf("Invalid duration: %v", err)
	}

	r.record(ctx, sender, "grant_access", strconv.FormatInt(target, 10), c.Duration)
	return fmt.Sprintf("Granted elevated access to %d until %s UTC.", target, expiry.Format(time.RFC3339))
}

func (r *Router) revoke(ctx context.Context, sender int64, c RevokeCommand) string {
	if c.Target == "" {
		return "Usage: /revoke <idOr@name>"
	}

	target, err := r.directory.ResolveTarget(ctx, c.Target)
	if err != nil {
		return fmt.Sprintf("Error resolving target: %v", err)
	}

	if err := r.grants.Revoke(target); err != nil {
		if errors.Is(err, access.ErrNoGrant) {
			return "That user has no active grant."
		}
		return fmt.Sprintf("Failed to revoke: %v", err)
	}

	r.record(ctx, sender, "revoke_access", strconv.FormatInt(target, 10), "")
	return fmt.Sprintf("Removed elevated access for %d.", target)
}

func (r *Router) drill(ctx context.Context, sender int64, c DrillCommand) string {
	if c.Description == "" {
		return "Usage: /drill <description>"
	}

	if err := r.actions.Append(ctx, &store.ActionEntry{
		Action: drillAction,
		Target: c.Description,
		Actor:  strconv.FormatInt(sender, 10),
		Detail: "user-triggered drill",
	}); err != nil {
		r.logger.Error("recording drill", "sender", sender, "error", err)
		return fmt.Sprintf("Failed to log drill: %v", err)
	}
	return fmt.Sprintf("Drill logged for: %s", c.Description)
}

func (r *Router) drillCounts(ctx context.Context) string {
	counts, err := r.actions.CountByActor(ctx, drillAction)
	if err != nil {
		return fmt.Sprintf("Error reading drill log: %v", err)
	}
	if len(counts) == 0 {
		return "No drills logged yet."
	}

	var b strings.Builder
	b.WriteString("Drill counts:\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "%s: %d\n", c.Actor, c.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// record appends an audit entry best-effort; command outcomes never depend
// on the audit sink.
func (r *Router) record(ctx context.Context, sender int64, action, target, detail string) {
	err := r.actions.Append(ctx, &store.ActionEntry{
		Action: action,
		Target: target,
		Actor:  strconv.FormatInt(sender, 10),
		Detail: detail,
	})
	if err != nil {
		r.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
