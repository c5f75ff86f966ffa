// Package router implements the channel-message pipeline: ignore
// filtering, flood detection, command dispatch, chat-log bookkeeping, and
// direct/mention reply triggering.
package router

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/access"
	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/flood"
	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
)

// Deps bundles the router's collaborators. Commands and Reply may be nil
// during early wiring; a nil Commands treats every prefixed message as an
// unresolved command (no output, no fallthrough), and a nil Reply makes
// the router a no-op on trigger decisions.
type Deps struct {
	Roster   Roster
	Access   *access.Control
	Flood    *flood.Detector
	ChatLog  *chatlog.Store
	Clocks   *roomstate.Clocks
	Config   *roomconfig.View
	Commands CommandDispatcher
	Reply    Replier
	Emitter  Emitter
	Logger   *slog.Logger
}

// Router dispatches inbound channel messages through the pipeline
// described in the message-handler specification.
type Router struct {
	deps Deps

	mu         sync.Mutex
	regexCache map[string]*regexp.Regexp
}

// New returns a Router wired to deps. A nil Logger falls back to
// slog.Default().
func New(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{deps: deps, regexCache: make(map[string]*regexp.Regexp)}
}

// HandleChannelMessage runs one inbound PRIVMSG through the full pipeline.
// account, if known from the roster, is used for admin matching; pass ""
// if unknown.
func (r *Router) HandleChannelMessage(ctx context.Context, room, nick, userhost, account, text string) {
	log := r.deps.Logger.With("room", room, "nick", nick)

	if r.isIgnored(room, nick, text, log) {
		return
	}

	ident, host := splitUserhost(userhost)
	isAdmin := r.deps.Access != nil && r.deps.Access.IsAdmin(access.Identity{Nick: nick, Ident: ident, Host: host, Account: account})
	isOp := r.deps.Roster != nil && r.deps.Roster.IsOp(room, nick)
	isVoice := r.deps.Roster != nil && r.deps.Roster.IsVoice(room, nick)

	if r.checkFlood(room, nick, userhost, isOp, isAdmin, log) {
		return
	}

	prefix := r.stringConfig(room, "cmd_prefix", "!")
	if prefix != "" && strings.HasPrefix(text, prefix) {
		r.dispatchCommand(ctx, room, nick, userhost, isAdmin, isOp, isVoice, strings.TrimPrefix(text, prefix))
		return
	}

	// Capture the previous last-speaker before appending this message, so
	// the was-self-last gate below compares against what came before this
	// turn rather than against the turn itself.
	prevLast, havePrev := r.deps.ChatLog.Last(room)

	r.deps.ChatLog.Append(room, nick, text)

	currentNick := ""
	if r.deps.Roster != nil {
		currentNick = r.deps.Roster.CurrentNick()
	}
	if !strings.EqualFold(nick, currentNick) {
		r.deps.Clocks.TouchChat(room)
	}

	if r.deps.Clocks.IsSleeping(room) {
		log.Debug("skipping reply, room is sleeping")
		return
	}

	lower := strings.ToLower(text)
	direct := strings.HasPrefix(lower, strings.ToLower(currentNick)+":")
	if !direct && havePrev && strings.EqualFold(prevLast.Speaker, currentNick) {
		log.Debug("skipping reply, bot was last speaker")
		return
	}

	r.considerTrigger(ctx, room, nick, userhost, text, currentNick, direct)
}

func (r *Router) considerTrigger(ctx context.Context, room, nick, userhost, text, currentNick string, direct bool) {
	mentionEnabled := r.boolConfig(room, "ai_mention", false)
	mentioned := mentionEnabled && !direct && currentNick != "" &&
		strings.Contains(strings.ToLower(text), strings.ToLower(currentNick))

	if !direct && !mentioned {
		return
	}

	includeHistory := r.boolConfig(room, "ai_context_mention", true)
	if direct {
		includeHistory = r.boolConfig(room, "ai_context_direct", false)
	}

	r.deps.Clocks.TouchTrigger(room)
	if r.boolConfig(room, "ai_continue", false) {
		freq := r.floatConfig(room, "ai_continue_freq", 30)
		r.deps.Clocks.SetNextContinuation(room, time.Now().Add(time.Duration(freq*float64(time.Second))))
	}

	trigger := ReplyTrigger{
		Room:           room,
		Speaker:        nick,
		Userhost:       userhost,
		Text:           text,
		Direct:         direct,
		IncludeHistory: includeHistory,
	}

	delay := r.replyDelay(room)
	if r.deps.Reply == nil {
		return
	}
	if delay <= 0 {
		r.deps.Reply.Trigger(ctx, trigger)
		return
	}
	go func() {
		time.Sleep(delay)
		r.deps.Reply.Trigger(ctx, trigger)
	}()
}

func (r *Router) dispatchCommand(ctx context.Context, room, nick, userhost string, isAdmin, isOp, isVoice bool, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if r.deps.Commands == nil {
		return
	}
	result, ok := r.deps.Commands.Dispatch(ctx, room, nick, userhost, isAdmin, isOp, isVoice, name, args)
	if !ok {
		return
	}
	if result.Text == "" {
		return
	}
	if r.deps.Emitter != nil {
		r.deps.Emitter.Raw("PRIVMSG " + room + " :" + result.Text)
	}
	if result.AddToHistory {
		currentNick := ""
		if r.deps.Roster != nil {
			currentNick = r.deps.Roster.CurrentNick()
		}
		r.deps.ChatLog.Append(room, currentNick, result.Text)
	}
}

func (r *Router) checkFlood(room, nick, userhost string, isOp, isAdmin bool, log *slog.Logger) bool {
	window := flood.Window{
		Lines:          r.intConfig(room, "floodpro.lines", 0),
		Seconds:        time.Duration(r.intConfig(room, "floodpro.seconds", 0)) * time.Second,
		PenaltySeconds: time.Duration(r.intConfig(room, "floodpro.ban_time", 0)) * time.Minute,
	}
	flooding, actions := r.deps.Flood.CheckChannel(room, nick, userhost, isOp, isAdmin, window)
	if !flooding {
		return false
	}
	log.Info("channel flood detected", "actions", len(actions))
	metrics.FloodBans.WithLabelValues(room).Inc()
	for _, a := range actions {
		if r.deps.Emitter != nil {
			r.deps.Emitter.Raw(a.Command)
		}
	}
	return true
}

func (r *Router) isIgnored(room, nick, text string, log *slog.Logger) bool {
	nicks := r.unionStrings(room, "ignore_nicks")
	lowerNick := strings.ToLower(nick)
	for _, n := range nicks {
		if strings.ToLower(n) == lowerNick {
			log.Info("ignoring message from ignore-listed nick")
			return true
		}
	}

	for _, pattern := range r.unionStrings(room, "ignore_regex") {
		re, err := r.compileRegex(pattern)
		if err != nil {
			log.Error("invalid ignore_regex pattern", "pattern", pattern, "err", err)
			continue
		}
		if re.MatchString(text) {
			log.Info("ignoring message matching ignore_regex", "pattern", pattern)
			return true
		}
	}
	return false
}

func (r *Router) compileRegex(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.regexCache[pattern] = re
	return re, nil
}

// unionStrings combines the room-scoped and global-scoped values of key,
// deduplicated — ignore lists apply cumulatively rather than the usual
// room-overrides-global resolution order.
func (r *Router) unionStrings(room, key string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(vals []string) {
		for _, v := range vals {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	if rm, ok := r.deps.Config.Rooms[strings.ToLower(room)]; ok {
		add(configval.StringSlice(rm.Values[key]))
	}
	add(configval.StringSlice(r.deps.Config.Global[key]))
	return out
}

func (r *Router) stringConfig(room, key, def string) string {
	return configval.String(r.deps.Config.Get(room, key, def), def)
}

func (r *Router) boolConfig(room, key string, def bool) bool {
	return configval.Bool(r.deps.Config.Get(room, key, def), def)
}

func (r *Router) intConfig(room, key string, def int) int {
	return configval.Int(r.deps.Config.Get(room, key, def), def)
}

func (r *Router) floatConfig(room, key string, def float64) float64 {
	return configval.Float(r.deps.Config.Get(room, key, def), def)
}

// replyDelay draws a uniform duration from the configured ai_delay [min,
// max] second range. A zero range means no delay.
func (r *Router) replyDelay(room string) time.Duration {
	v := r.deps.Config.Get(room, "ai_delay", nil)
	lo, hi := configval.FloatPair(v)
	if lo <= 0 && hi <= 0 {
		return 0
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	seconds := lo
	if hi > lo {
		seconds = lo + rand.Float64()*(hi-lo)
	}
	return time.Duration(seconds * float64(time.Second))
}

func splitUserhost(userhost string) (ident, host string) {
	i := strings.IndexByte(userhost, '@')
	if i < 0 {
		return "", userhost
	}
	return userhost[:i], userhost[i+1:]
}
