// Package session implements the protocol registration state machine:
// capability negotiation, SASL, nick-collision recovery, roster sync via
// NAMES/WHO/WHOX, mode tracking, invite/kick handling, and CTCP.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/logging"
	"github.com/relaycore/relaybot/internal/tracing"
	"github.com/relaycore/relaybot/internal/wire"
	"go.opentelemetry.io/otel/trace"
)

// Handlers are the callbacks the owner (the message router) wires up to
// receive protocol events the session machine doesn't itself interpret.
type Handlers struct {
	// OnChannelMessage fires for a non-CTCP PRIVMSG to a room.
	OnChannelMessage func(room, nick, userhost, text string)
	// OnPrivateMessage fires for a non-CTCP PRIVMSG directed at us.
	OnPrivateMessage func(nick, userhost, text string)
	// OnRegistered fires once, when 001 is received.
	OnRegistered func()
	// OnJoinedRoom fires when our own JOIN to room is confirmed.
	OnJoinedRoom func(room string)
	// OnKickedSelf fires when we are kicked from room.
	OnKickedSelf func(room, by, reason string)
	// CheckPrivateFlood is consulted before answering a CTCP request; a
	// true return means the request is dropped as flood.
	CheckPrivateFlood func(nick string) bool
}

// Session is the live protocol state machine for one connection. It is
// not safe to share across connections; a fresh Session is constructed
// per netconn.Manager.Run invocation of onConnected.
type Session struct {
	mu sync.Mutex

	cfg      Config
	writer   *wire.Writer
	logger   *slog.Logger
	handlers Handlers

	state       State
	currentNick string
	nickAttempt int

	saslRequested     bool
	saslAuthenticated bool
	registered        bool
	postConnectSent   bool

	rooms map[string]*Room // keyed by lowercase room name
	users map[string]*User // keyed by nick, case-sensitive (as seen on the wire)

	ctx          context.Context
	registerSpan trace.Span

	logRaw bool
}

// New returns a Session ready to drive a freshly dialed connection.
func New(cfg Config, writer *wire.Writer, handlers Handlers, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:         cfg,
		writer:      writer,
		logger:      logger,
		handlers:    handlers,
		state:       Connecting,
		currentNick: cfg.Nick,
		rooms:       make(map[string]*Room),
		users:       make(map[string]*User),
		ctx:         context.Background(),
	}
}

// WithContext sets the context registration spans are parented to.
// Call before Begin; the zero value uses context.Background.
func (s *Session) WithContext(ctx context.Context) *Session {
	s.ctx = ctx
	return s
}

// WithRawLog enables log_raw wire forensics: every inbound line is
// logged via the session's logger at logging.LevelTrace.
func (s *Session) WithRawLog(enabled bool) *Session {
	s.logRaw = enabled
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentNick returns the nick currently in use, which may differ from
// the configured primary nick after collision recovery.
func (s *Session) CurrentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNick
}

// Begin sends the registration dialog's opening lines: capability
// negotiation (if SASL is enabled), server password, NICK, and USER,
// ending capability negotiation immediately if SASL is not in use.
func (s *Session) Begin() {
	ctx, span := tracing.Tracer().Start(s.ctx, "session.register")

	s.mu.Lock()
	s.state = Registering
	s.ctx = ctx
	s.registerSpan = span
	s.mu.Unlock()

	if s.cfg.SASL.Enabled {
		s.writer.Raw("CAP LS 302")
	}
	if s.cfg.Password != "" {
		s.writer.Raw("PASS " + s.cfg.Password)
	}
	s.writer.Raw("NICK " + s.currentNick)
	s.writer.Raw("USER " + s.cfg.Ident + " 0 * :" + s.cfg.Realname)
	if !s.cfg.SASL.Enabled {
		s.writer.Raw("CAP END")
	}
}

// IsOp reports whether nick holds op status in room.
func (s *Session) IsOp(room, nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		return false
	}
	m, ok := r.Members[nick]
	return ok && m.Op
}

// IsVoice reports whether nick holds voice status in room.
func (s *Session) IsVoice(room, nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		return false
	}
	m, ok := r.Members[nick]
	return ok && m.Voice
}

// Members returns the current nicks present in room.
func (s *Session) Members(room string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.Members))
	for nick := range r.Members {
		out = append(out, nick)
	}
	return out
}

// InRoom reports whether nick is currently tracked as present in room.
func (s *Session) InRoom(room, nick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		return false
	}
	_, ok = r.Members[nick]
	return ok
}

// JoinedRooms returns the rooms currently confirmed joined (pending
// excluded).
func (s *Session) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for _, r := range s.rooms {
		if !r.Pending {
			out = append(out, r.Name)
		}
	}
	return out
}

// ConfiguredRooms returns the room names the session is configured to
// join, regardless of current membership state.
func (s *Session) ConfiguredRooms() []string {
	out := make([]string, 0, len(s.cfg.Rooms))
	for _, rj := range s.cfg.Rooms {
		out = append(out, rj.Name)
	}
	return out
}

// HasPendingOrJoined reports whether room is currently tracked at all,
// whether joined or awaiting the server's JOIN confirmation.
func (s *Session) HasPendingOrJoined(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[strings.ToLower(room)]
	return ok
}

// UserInfo returns accumulated global identity info for nick.
func (s *Session) UserInfo(nick string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[nick]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// HandleLine processes one decoded line from the wire. PING is answered
// immediately and does not reach the dispatcher.
func (s *Session) HandleLine(raw string) {
	logging.TraceRaw(s.logger, s.logRaw, "in", raw)

	if strings.HasPrefix(raw, "PING") {
		payload := strings.TrimPrefix(raw, "PING")
		payload = strings.TrimPrefix(payload, " ")
		l := wire.Parse("PING " + payload)
		s.writer.Raw(wire.Pong(l.Trailing, l.Params))
		return
	}

	l := wire.Parse(raw)
	if l.Command == "" {
		return
	}

	nick, ident, host := wire.SplitPrefix(l.Prefix)
	userhost := ""
	if ident != "" || host != "" {
		userhost = ident + "@" + host
	}

	if isNumeric(l.Command) {
		s.handleNumeric(l.Command, l, nick, userhost)
		return
	}

	switch l.Command {
	case "CAP":
		s.handleCAP(l)
	case "AUTHENTICATE":
		s.handleAuthenticate(l)
	case "JOIN":
		s.handleJoin(l, nick, userhost)
	case "PART":
		s.handlePart(l, nick)
	case "QUIT":
		s.handleQuit(nick)
	case "NICK":
		s.handleNick(l, nick)
	case "MODE":
		s.handleMode(l)
	case "INVITE":
		s.handleInvite(l)
	case "KICK":
		s.handleKick(l, nick)
	case "PRIVMSG":
		s.handlePrivmsg(l, nick, userhost)
	default:
		if len(l.Command) >= 3 && (l.Command[0] == '4' || l.Command[0] == '5') {
			s.logger.Warn("protocol error numeric", "numeric", l.Command, "line", raw)
		}
	}
}

func isNumeric(command string) bool {
	if len(command) != 3 {
		return false
	}
	for _, r := range command {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// sendPostConnect sends the configured post-connect commands with
// 1-second pacing, substituting $nick, then joins every configured room.
// Run on its own goroutine so the reader loop is never blocked by the
// pacing sleeps.
func (s *Session) sendPostConnect() {
	for _, cmd := range s.cfg.PostConnectCommands {
		cmd = strings.ReplaceAll(cmd, "$nick", s.currentNick)
		s.writer.Raw(cmd)
		time.Sleep(1 * time.Second)
	}

	for _, room := range s.cfg.Rooms {
		s.mu.Lock()
		key := strings.ToLower(room.Name)
		s.rooms[key] = &Room{Name: room.Name, Members: make(map[string]*Member), Pending: true}
		s.mu.Unlock()

		if room.Key != "" {
			s.writer.Raw("JOIN " + room.Name + " " + room.Key)
		} else {
			s.writer.Raw("JOIN " + room.Name)
		}
	}
}

func (s *Session) handlePrivmsg(l wire.Line, nick, userhost string) {
	text := l.Trailing
	if strings.HasPrefix(text, "\x01") && strings.HasSuffix(text, "\x01") {
		s.handleCTCP(nick, userhost, strings.Trim(text, "\x01"))
		return
	}

	if len(l.Params) == 0 {
		return
	}
	target := l.Params[0]
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		if s.handlers.OnChannelMessage != nil {
			s.handlers.OnChannelMessage(target, nick, userhost, text)
		}
		return
	}
	if s.handlers.OnPrivateMessage != nil {
		s.handlers.OnPrivateMessage(nick, userhost, text)
	}
}
