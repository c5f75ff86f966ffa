package scheduler

import "context"

// Roster is the subset of session.Session the scheduler needs: which
// rooms are joined, who's in them, and who holds ops.
type Roster interface {
	CurrentNick() string
	JoinedRooms() []string
	ConfiguredRooms() []string
	HasPendingOrJoined(room string) bool
	Members(room string) []string
	IsOp(room, nick string) bool
}

// Replier generates and emits the scheduler-driven varieties of speech:
// unprompted idle chat, continuation of the bot's own last turn, a new
// topic, and a kick reason. None of these flow through the router's
// message-triggered gate logic.
type Replier interface {
	TriggerIdle(ctx context.Context, room string)
	TriggerContinuation(ctx context.Context, room string)
	Topic(ctx context.Context, room string)
	Kick(ctx context.Context, room, target string)
}

// Emitter issues raw protocol commands, used by the watchdog to re-issue
// a pending JOIN.
type Emitter interface {
	Raw(cmd string) error
}
