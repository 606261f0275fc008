// ABOUTME: Command parsing for the chat control surface.
// ABOUTME: Produces tagged command variants dispatched by the router.

package bot

import "strings"

// Command is a parsed inbound message. Exactly one concrete variant is
// produced per message; free text that is not a slash command becomes
// TextMessage so the router can feed it to an active onboarding flow.
type Command interface{ isCommand() }

// MenuCommand shows the action menu (/start).
type MenuCommand struct{}

// HelpCommand lists available commands (/help).
type HelpCommand struct{}

// AccountsCommand lists registered accounts (/accounts).
type AccountsCommand struct{}

// AddCommand begins the interactive onboarding flow (/add).
type AddCommand struct{}

// RemoveCommand deletes an account by phone (/remove <phone>).
type RemoveCommand struct{ Phone string }

// CancelCommand cancels the sender's in-progress flow (/cancel).
type CancelCommand struct{}

// ScanCommand scans a channel's recent participants (/scan <channel>).
type ScanCommand struct{ Channel string }

// ResolveCommand fans a username lookup across all accounts (/resolve @name).
type ResolveCommand struct{ Username string }

// GrantCommand grants timed elevated access (/grant <idOr@name> <N> <unit>).
type GrantCommand struct {
	Target   string
	Duration string
}

// RevokeCommand removes elevated access (/revoke <idOr@name>).
type RevokeCommand struct{ Target string }

// DrillCommand records a benign audit-only action (/drill <description>).
type DrillCommand struct{ Description string }

// DrillCountCommand reports drill counts per performer (/drills).
type DrillCountCommand struct{}

// TextMessage is any non-command text.
type TextMessage struct{ Text string }

// UnknownCommand is a slash command the router does not know.
type UnknownCommand struct{ Name string }

func (MenuCommand) isCommand()       {}
func (HelpCommand) isCommand()       {}
func (AccountsCommand) isCommand()   {}
func (AddCommand) isCommand()        {}
func (RemoveCommand) isCommand()     {}
func (CancelCommand) isCommand()     {}
func (ScanCommand) isCommand()       {}
func (ResolveCommand) isCommand()    {}
func (GrantCommand) isCommand()      {}
func (RevokeCommand) isCommand()     {}
func (DrillCommand) isCommand()      {}
func (DrillCountCommand) isCommand() {}
func (TextMessage) isCommand()       {}
func (UnknownCommand) isCommand()    {}

// Parse turns raw message text into a Command.
func Parse(text string) Command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return TextMessage{Text: text}
	}

	fields := strings.Fields(text)
	name := fields[0]
	args := fields[1:]

	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	rest := func(from int) string {
		if from < len(args) {
			return strings.Join(args[from:], " ")
		}
		return ""
	}

	switch name {
	case "/start":
		return MenuCommand{}
	case "/help":
		return HelpCommand{}
	case "/accounts":
		return AccountsCommand{}
	case "/add":
		return AddCommand{}
	case "/remove":
		return RemoveCommand{Phone: arg(0)}
	case "/cancel":
		return CancelCommand{}
	case "/scan":
		return ScanCommand{Channel: arg(0)}
	case "/resolve":
		return ResolveCommand{Username: arg(0)}
	case "/grant":
		return GrantCommand{Target: arg(0), Duration: rest(1)}
	case "/revoke":
		return RevokeCommand{Target: arg(0)}
	case "/drill":
		return DrillCommand{Description: rest(0)}
	case "/drills":
		return DrillCountCommand{}
	default:
		return UnknownCommand{Name: name}
	}
}
