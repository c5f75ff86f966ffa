// Package llm provides the bot's abstract language-model capability: four
// plain-text operations (reply, topic, kick reason, entrance greeting) backed
// by an OpenAI-compatible chat-completion endpoint.
package llm

import "context"

// Default sampling parameters, per room configuration fallback.
const (
	ChatTemperature  = 0.8
	OtherTemperature = 0.9

	ChatMaxTokens  = 150
	OtherMaxTokens = 50
)

// Deterministic fallback strings returned when the upstream call fails or
// the circuit breaker is open. The reply pipeline never surfaces a raw
// error to a room; it always has one of these to fall back on.
const (
	FallbackError = "Uh… I'm speechless (error)."
	FallbackKick  = "Because I said so!"
	FallbackTopic = "Just another boring day."
)

// Client is the capability surface the rest of the bot depends on. Room
// and scheduler code never talks HTTP directly; it calls one of these four
// methods and gets plain text back, or an error if every fallback attempt
// is exhausted (callers are expected to substitute one of the Fallback*
// constants rather than propagate the error to a room).
type Client interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
	GenerateTopic(ctx context.Context, req TopicRequest) (string, error)
	GenerateKickReason(ctx context.Context, req KickRequest) (string, error)
	GenerateEntrance(ctx context.Context, req EntranceRequest) (string, error)
}
