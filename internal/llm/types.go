package llm

// ReplyRequest asks for a conversational reply to the current turn of a room.
type ReplyRequest struct {
	Service     string // ai_service: registry key for the endpoint base URL
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	SystemPrompt string
	Roster       string // optional room-members block, empty if disabled
	History      string // optional recent chat-log block, empty if disabled
	Turn         string // the line that triggered the reply
}

// TopicRequest asks for a new channel topic line.
type TopicRequest struct {
	Service     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	SystemPrompt string
	History      string
}

// KickRequest asks for a kick reason aimed at a specific nick.
type KickRequest struct {
	Service     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	SystemPrompt string
	Target       string
}

// EntranceRequest asks for a greeting to send when the bot joins a room
// or a new user arrives, depending on how the room configures ai_entrance.
type EntranceRequest struct {
	Service     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int

	SystemPrompt string
	Nick         string
}
