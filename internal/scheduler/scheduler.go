// Package scheduler runs the per-room conversational loop: idle chat,
// random moderator actions, continuation of the bot's own last turn,
// and a watchdog that keeps every configured room joined.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/configval"
	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
)

// tickInterval bounds how often the cooperative loop wakes to
// re-evaluate every room's deadlines. Spec caps scheduler suspension at
// 60s between iterations; a shorter interval just improves deadline
// precision.
const tickInterval = 5 * time.Second

// watchdogInterval is the independent room-presence check period.
const watchdogInterval = 30 * time.Second

// Deps bundles the scheduler's collaborators.
type Deps struct {
	Roster  Roster
	ChatLog *chatlog.Store
	Clocks  *roomstate.Clocks
	Config  *roomconfig.View
	Reply   Replier
	Emitter Emitter
	Logger  *slog.Logger

	// Rand returns a float in [0,1); overridable for deterministic tests.
	Rand func() float64
}

// Scheduler runs the idle/action/continuation loop and the watchdog as
// two independent goroutines.
type Scheduler struct {
	deps Deps

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New returns a Scheduler wired to deps. Logger and Rand default if nil.
func New(deps Deps) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Rand == nil {
		deps.Rand = rand.Float64
	}
	return &Scheduler{deps: deps}
}

// Start launches the loop and watchdog goroutines. It returns
// immediately; call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runLoop(ctx)
	go s.runWatchdog(ctx)
}

// Stop signals both goroutines to exit and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.tickOnce(ctx)

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(tickInterval):
		}
	}
}

func (s *Scheduler) runWatchdog(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.checkPresence()

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(watchdogInterval):
		}
	}
}

// tickOnce evaluates every joined, non-sleeping room's idle-chat,
// random-action, and continuation deadlines once.
func (s *Scheduler) tickOnce(ctx context.Context) {
	for _, room := range s.deps.Roster.JoinedRooms() {
		if s.deps.Clocks.IsSleeping(room) {
			continue
		}
		s.considerIdle(ctx, room)
		s.considerAction(ctx, room)
		s.considerContinuation(ctx, room)
	}
}

func (s *Scheduler) considerIdle(ctx context.Context, room string) {
	interval := s.durationConfig(room, "idle_chat_interval", 0)
	if interval <= 0 {
		return
	}
	required := s.durationConfig(room, "idle_chat_time", 0)
	if time.Since(s.deps.Clocks.LastChat(room)) < required {
		return
	}
	if s.selfWasLast(room) {
		return
	}
	s.deps.Reply.TriggerIdle(ctx, room)
	s.deps.Clocks.TouchChat(room)
	metrics.SchedulerActions.WithLabelValues(room, "idle").Inc()
}

func (s *Scheduler) considerAction(ctx context.Context, room string) {
	interval := s.durationConfig(room, "random_action_interval", 0)
	if interval <= 0 {
		return
	}
	required := s.durationConfig(room, "idle_chat_time", 0)
	if time.Since(s.deps.Clocks.LastChat(room)) < required {
		return
	}
	if !s.deps.Roster.IsOp(room, s.deps.Roster.CurrentNick()) {
		return
	}

	choices := s.enabledActions(room)
	if len(choices) == 0 {
		return
	}
	choice := choices[pick(s.deps.Rand(), len(choices))]

	switch choice {
	case "topic":
		s.deps.Reply.Topic(ctx, room)
		s.deps.Clocks.TouchAction(room)
		metrics.SchedulerActions.WithLabelValues(room, "topic").Inc()
	case "kick":
		target, ok := s.pickKickTarget(room)
		if !ok {
			return
		}
		s.deps.Reply.Kick(ctx, room, target)
		s.deps.Clocks.TouchAction(room)
		metrics.SchedulerActions.WithLabelValues(room, "kick").Inc()
	}
}

func (s *Scheduler) considerContinuation(ctx context.Context, room string) {
	if !s.boolConfig(room, "ai_continue", false) {
		return
	}
	window := time.Duration(s.floatConfig(room, "ai_continue_mins", 0) * float64(time.Minute))
	if window <= 0 {
		return
	}
	lastTrigger := s.deps.Clocks.LastTrigger(room)
	if lastTrigger.IsZero() || time.Since(lastTrigger) > window {
		s.deps.Clocks.ClearContinuation(room)
		return
	}

	next, ok := s.deps.Clocks.NextContinuation(room)
	if !ok || time.Now().Before(next) {
		return
	}

	freq := time.Duration(s.floatConfig(room, "ai_continue_freq", 30)) * time.Second
	if s.selfWasLast(room) {
		s.deps.Clocks.SetNextContinuation(room, time.Now().Add(freq))
		return
	}
	s.deps.Reply.TriggerContinuation(ctx, room)
	s.deps.Clocks.SetNextContinuation(room, time.Now().Add(freq))
	metrics.SchedulerActions.WithLabelValues(room, "continuation").Inc()
}

// checkPresence re-issues JOIN for any configured room that isn't
// currently joined or pending.
func (s *Scheduler) checkPresence() {
	for _, room := range s.deps.Roster.ConfiguredRooms() {
		if s.deps.Roster.HasPendingOrJoined(room) {
			continue
		}
		if s.deps.Emitter != nil {
			s.deps.Emitter.Raw("JOIN " + room)
		}
		metrics.SchedulerActions.WithLabelValues(room, "rejoin").Inc()
	}
}

func (s *Scheduler) selfWasLast(room string) bool {
	last, ok := s.deps.ChatLog.Last(room)
	if !ok {
		return false
	}
	return strings.EqualFold(last.Speaker, s.deps.Roster.CurrentNick())
}

// pickKickTarget chooses uniformly among recent speakers who are still
// present, not the bot, and not op.
func (s *Scheduler) pickKickTarget(room string) (string, bool) {
	self := s.deps.Roster.CurrentNick()
	members := make(map[string]bool)
	for _, m := range s.deps.Roster.Members(room) {
		members[strings.ToLower(m)] = true
	}

	var candidates []string
	for _, speaker := range s.deps.ChatLog.RecentSpeakers(room, 20) {
		if strings.EqualFold(speaker, self) {
			continue
		}
		if !members[strings.ToLower(speaker)] {
			continue
		}
		if s.deps.Roster.IsOp(room, speaker) {
			continue
		}
		candidates = append(candidates, speaker)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[pick(s.deps.Rand(), len(candidates))], true
}

// enabledActions returns the subset of {"topic", "kick"} enabled for
// room via random_actions.topic / random_actions.kick.
func (s *Scheduler) enabledActions(room string) []string {
	var out []string
	if s.boolConfig(room, "random_actions.topic", false) {
		out = append(out, "topic")
	}
	if s.boolConfig(room, "random_actions.kick", false) {
		out = append(out, "kick")
	}
	return out
}

func pick(r float64, n int) int {
	idx := int(r * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (s *Scheduler) boolConfig(room, key string, def bool) bool {
	return configval.Bool(s.deps.Config.Get(room, key, def), def)
}

func (s *Scheduler) floatConfig(room, key string, def float64) float64 {
	return configval.Float(s.deps.Config.Get(room, key, def), def)
}

// durationConfig reads a config value expressed in seconds and returns
// it as a time.Duration.
func (s *Scheduler) durationConfig(room, key string, defSeconds float64) time.Duration {
	seconds := s.floatConfig(room, key, defSeconds)
	return time.Duration(seconds * float64(time.Second))
}
