package reply

// Roster is the subset of session.Session the reply pipeline needs to
// build prompts and resolve the bot's own nick.
type Roster interface {
	CurrentNick() string
	Members(room string) []string
}

// Emitter issues raw protocol commands.
type Emitter interface {
	Send(cmd string) error
	Raw(cmd string) error
}

// protocolLimit is the 512-byte protocol line limit, CRLF included. send
// subtracts the "PRIVMSG <channel> :" framing and the CRLF the writer
// appends to get the longest chunk it emits.
const protocolLimit = 512
