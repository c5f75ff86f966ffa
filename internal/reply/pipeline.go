// Package reply turns a triggered conversational turn into LLM-backed
// text and gets it onto the wire: prompt construction, quote/markdown
// post-processing, and chunking to the protocol's line-length limit.
package reply

import (
	"context"
	"log/slog"
	"strings"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/llm"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
	"github.com/relaycore/relaybot/internal/router"
)

const (
	defaultPrompt  = "You are a helpful IRC bot."
	defaultHistory = 20
)

// Pipeline implements router.Replier and the scheduler-driven generation
// methods (idle chat, continuation, entrance, topic, kick reason) that
// don't flow through the router's gate logic.
type Pipeline struct {
	LLM     llm.Client
	ChatLog *chatlog.Store
	Config  *roomconfig.View
	Roster  Roster
	Emitter Emitter
	Clocks  *roomstate.Clocks
	Logger  *slog.Logger
}

// New returns a Pipeline with a default logger if none is given.
func New(p Pipeline) *Pipeline {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &p
}

// Trigger satisfies router.Replier: it generates a reply for t and sends
// it to t.Room, chunked as needed.
func (p *Pipeline) Trigger(ctx context.Context, t router.ReplyTrigger) {
	room := t.Room
	log := p.Logger.With("room", room)

	req := llm.ReplyRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.ChatTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.ChatMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		Roster:       p.rosterBlock(room),
		Turn:         t.Speaker + ": " + t.Text,
	}
	if t.IncludeHistory {
		req.History = p.historyBlock(room)
	}

	text, err := p.LLM.GenerateReply(ctx, req)
	if err != nil {
		log.Error("reply generation failed", "err", err)
		text = llm.FallbackError
	}

	p.send(room, text)
}

// TriggerIdle generates an unprompted line to revive a quiet room.
func (p *Pipeline) TriggerIdle(ctx context.Context, room string) {
	req := llm.ReplyRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.ChatTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.ChatMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		Roster:       p.rosterBlock(room),
		History:      p.historyBlock(room),
		Turn:         "(the room has gone quiet, say something)",
	}
	text, err := p.LLM.GenerateReply(ctx, req)
	if err != nil {
		p.Logger.Error("idle chat generation failed", "room", room, "err", err)
		text = llm.FallbackError
	}
	p.send(room, text)
}

// TriggerContinuation generates a follow-up to the bot's own last line,
// within the room's configured continuation window.
func (p *Pipeline) TriggerContinuation(ctx context.Context, room string) {
	req := llm.ReplyRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.ChatTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.ChatMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		Roster:       p.rosterBlock(room),
		History:      p.historyBlock(room),
		Turn:         "(continue your last thought)",
	}
	text, err := p.LLM.GenerateReply(ctx, req)
	if err != nil {
		p.Logger.Error("continuation generation failed", "room", room, "err", err)
		text = llm.FallbackError
	}
	p.send(room, text)
}

// Entrance generates and sends a greeting for nick arriving in room.
func (p *Pipeline) Entrance(ctx context.Context, room, nick string) {
	req := llm.EntranceRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.OtherTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.OtherMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		Nick:         nick,
	}
	text, err := p.LLM.GenerateEntrance(ctx, req)
	if err != nil {
		p.Logger.Error("entrance generation failed", "room", room, "err", err)
		text = llm.FallbackError
	}
	p.send(room, text)
}

// Topic generates and sets a new topic for room.
func (p *Pipeline) Topic(ctx context.Context, room string) {
	req := llm.TopicRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.OtherTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.OtherMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		History:      p.historyBlock(room),
	}
	text, err := p.LLM.GenerateTopic(ctx, req)
	if err != nil {
		p.Logger.Error("topic generation failed", "room", room, "err", err)
		text = llm.FallbackTopic
	}
	text = collapseWhitespace(text)
	if p.Emitter != nil {
		p.Emitter.Raw("TOPIC " + room + " :" + text)
	}
}

// Kick generates a kick reason for target in room and issues the kick.
func (p *Pipeline) Kick(ctx context.Context, room, target string) {
	req := llm.KickRequest{
		Service:      p.stringConfig(room, "ai_service", "openai"),
		Model:        p.stringConfig(room, "ai_model", ""),
		APIKey:       p.stringConfig(room, "ai_key", ""),
		Temperature:  p.floatConfig(room, "ai_temperature", llm.OtherTemperature),
		MaxTokens:    p.intConfig(room, "ai_max_tokens", llm.OtherMaxTokens),
		SystemPrompt: p.stringConfig(room, "ai_prompt_default", defaultPrompt),
		Target:       target,
	}
	text, err := p.LLM.GenerateKickReason(ctx, req)
	if err != nil {
		p.Logger.Error("kick reason generation failed", "room", room, "err", err)
		text = llm.FallbackKick
	}
	text = collapseWhitespace(text)
	if p.Emitter != nil {
		p.Emitter.Raw("KICK " + room + " " + target + " :" + text)
	}
}

// send post-processes text and emits it to room as one or more PRIVMSGs,
// appending each chunk to the chat log and touching the room's
// last-bot-speech clock (spec's lastBot[room]).
func (p *Pipeline) send(room, text string) {
	text = postProcess(text)
	if text == "" {
		return
	}

	nick := ""
	if p.Roster != nil {
		nick = p.Roster.CurrentNick()
	}

	overhead := len("PRIVMSG ") + len(room) + len(" :") + 2
	maxLen := protocolLimit - overhead
	if maxLen < 1 {
		maxLen = 1
	}

	for _, chunk := range chunk(text, maxLen) {
		if p.Emitter != nil {
			p.Emitter.Raw("PRIVMSG " + room + " :" + chunk)
		}
		if p.ChatLog != nil {
			p.ChatLog.Append(room, nick, chunk)
		}
	}
	if p.Clocks != nil {
		p.Clocks.TouchBot(room)
	}
}

// postProcess mirrors the source formatter: collapse newlines, strip a
// message that is wholly wrapped in quotes, then convert **bold** and
// _underline_ markers to the mIRC control codes.
func postProcess(s string) string {
	s = collapseWhitespace(s)
	s = stripWrappingQuotes(s)
	s = replaceMarker(s, "**", "\x02")
	s = replaceMarker(s, "_", "\x1F")
	return s
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	fields := strings.Fields(strings.ReplaceAll(s, "\n", " "))
	return strings.TrimSpace(strings.Join(fields, " "))
}

func stripWrappingQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// replaceMarker swaps the first two occurrences of marker for code,
// matching the source's paired-delimiter replacement.
func replaceMarker(s, marker, code string) string {
	for i := 0; i < 2; i++ {
		idx := strings.Index(s, marker)
		if idx < 0 {
			break
		}
		s = s[:idx] + code + s[idx+len(marker):]
	}
	return s
}

// chunk splits text into pieces no longer than maxLen, preferring to
// break at a sentence boundary, then a word boundary, then a hard cut.
func chunk(text string, maxLen int) []string {
	var out []string
	for len(text) > maxLen {
		cut := bestSplit(text, maxLen)
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func bestSplit(text string, maxLen int) int {
	window := text[:maxLen]
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > best {
			best = idx + len(sep)
		}
	}
	if best > 0 {
		return best
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return idx + 1
	}
	return maxLen
}

func (p *Pipeline) rosterBlock(room string) string {
	if !p.boolConfig(room, "ai_nicklist", false) || p.Roster == nil {
		return ""
	}
	self := ""
	members := p.Roster.Members(room)
	out := make([]string, 0, len(members))
	if p.Roster != nil {
		self = p.Roster.CurrentNick()
	}
	for _, m := range members {
		if strings.EqualFold(m, self) {
			continue
		}
		out = append(out, m)
	}
	return strings.Join(out, ", ")
}

func (p *Pipeline) historyBlock(room string) string {
	if p.ChatLog == nil {
		return ""
	}
	n := p.intConfig(room, "chat_history", defaultHistory)
	entries := p.ChatLog.Tail(room, n)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Speaker+": "+e.Text)
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) stringConfig(room, key, def string) string {
	return configval.String(p.Config.Get(room, key, def), def)
}

func (p *Pipeline) boolConfig(room, key string, def bool) bool {
	return configval.Bool(p.Config.Get(room, key, def), def)
}

func (p *Pipeline) intConfig(room, key string, def int) int {
	return configval.Int(p.Config.Get(room, key, def), def)
}

func (p *Pipeline) floatConfig(room, key string, def float64) float64 {
	return configval.Float(p.Config.Get(room, key, def), def)
}
