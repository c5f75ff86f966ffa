package router

import "context"

// Roster is the subset of session.Session the router needs to make
// authorization and addressing decisions. session.Session satisfies this
// implicitly.
type Roster interface {
	CurrentNick() string
	IsOp(room, nick string) bool
	IsVoice(room, nick string) bool
}

// CommandResult is a command handler's outcome: the text to post (if any)
// and whether that text should also be appended to the room's chat log.
type CommandResult struct {
	Text         string
	AddToHistory bool
}

// CommandDispatcher resolves and executes a parsed command. ok is false
// when name isn't a registered command, the command is disabled for the
// room, or the caller isn't authorized — in all of those cases the router
// posts nothing and does not fall through to history/reply handling,
// matching the source behavior of treating anything after the command
// prefix as fully consumed.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, room, nick, userhost string, isAdmin, isOp, isVoice bool, name string, args []string) (result CommandResult, ok bool)
}

// ReplyTrigger describes a conversational turn the reply pipeline should
// respond to.
type ReplyTrigger struct {
	Room           string
	Speaker        string
	Userhost       string
	Text           string
	Direct         bool
	IncludeHistory bool
}

// Replier generates and emits a reply for a triggered turn. The router
// applies the configured pre-reply delay itself before calling Trigger.
type Replier interface {
	Trigger(ctx context.Context, t ReplyTrigger)
}

// Emitter issues raw protocol commands, used for flood ban/kick actions.
type Emitter interface {
	Raw(cmd string) error
}
