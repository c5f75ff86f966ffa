package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
	"go.uber.org/goleak"
)

// TestMain verifies Start/Stop never leaves the loop or watchdog goroutine
// running past the test that spawned it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRoster struct {
	nick    string
	joined  []string
	members map[string][]string
	ops     map[string]bool // "room/nick"
	pending map[string]bool
}

func (f *fakeRoster) CurrentNick() string     { return f.nick }
func (f *fakeRoster) JoinedRooms() []string   { return f.joined }
func (f *fakeRoster) ConfiguredRooms() []string {
	return f.joined
}
func (f *fakeRoster) HasPendingOrJoined(room string) bool {
	if f.pending == nil {
		return true
	}
	return f.pending[room]
}
func (f *fakeRoster) Members(room string) []string { return f.members[room] }
func (f *fakeRoster) IsOp(room, nick string) bool   { return f.ops != nil && f.ops[room+"/"+nick] }

type fakeReplier struct {
	mu           sync.Mutex
	idle         []string
	continuation []string
	topics       []string
	kicks        []string
}

func (f *fakeReplier) TriggerIdle(_ context.Context, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = append(f.idle, room)
}
func (f *fakeReplier) TriggerContinuation(_ context.Context, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continuation = append(f.continuation, room)
}
func (f *fakeReplier) Topic(_ context.Context, room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, room)
}
func (f *fakeReplier) Kick(_ context.Context, room, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, target)
}

type fakeEmitter struct {
	mu    sync.Mutex
	lines []string
}

func (e *fakeEmitter) Raw(cmd string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, cmd)
	return nil
}

func newScheduler(cfg *roomconfig.View, roster *fakeRoster, replier *fakeReplier, cl *chatlog.Store, clocks *roomstate.Clocks) *Scheduler {
	return New(Deps{
		Roster:  roster,
		ChatLog: cl,
		Clocks:  clocks,
		Config:  cfg,
		Reply:   replier,
		Emitter: &fakeEmitter{},
		Rand:    func() float64 { return 0 },
	})
}

func TestConsiderIdle_FiresWhenQuietLongEnough(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"idle_chat_interval": 1.0, "idle_chat_time": 0.01}}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerIdle(context.Background(), "#r")

	if len(replier.idle) != 1 {
		t.Fatalf("expected idle trigger, got %v", replier.idle)
	}
}

func TestConsiderIdle_SkipsWhenSelfWasLast(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"idle_chat_interval": 1.0, "idle_chat_time": 0.01}}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	cl.Append("#r", "bot", "hi")
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerIdle(context.Background(), "#r")

	if len(replier.idle) != 0 {
		t.Error("expected no idle trigger when bot spoke last")
	}
}

func TestConsiderIdle_DisabledWhenIntervalZero(t *testing.T) {
	cfg := roomconfig.View{}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	s.considerIdle(context.Background(), "#r")

	if len(replier.idle) != 0 {
		t.Error("expected no idle trigger with idle_chat_interval unset")
	}
}

func TestConsiderAction_RequiresOp(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{
		"random_action_interval": 1.0,
		"idle_chat_time":         0.01,
		"random_actions":         map[string]any{"topic": true},
	}}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	replier := &fakeReplier{}
	roster := &fakeRoster{nick: "bot"} // not op anywhere
	s := newScheduler(&cfg, roster, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerAction(context.Background(), "#r")

	if len(replier.topics) != 0 {
		t.Error("expected no action without op")
	}
}

func TestConsiderAction_PicksTopicWhenOnlyEnabled(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{
		"random_action_interval": 1.0,
		"idle_chat_time":         0.01,
		"random_actions":         map[string]any{"topic": true},
	}}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	replier := &fakeReplier{}
	roster := &fakeRoster{nick: "bot", ops: map[string]bool{"#r/bot": true}}
	s := newScheduler(&cfg, roster, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerAction(context.Background(), "#r")

	if len(replier.topics) != 1 {
		t.Fatalf("expected topic action, got topics=%v kicks=%v", replier.topics, replier.kicks)
	}
}

func TestConsiderAction_KickExcludesOpsAndAbsent(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{
		"random_action_interval": 1.0,
		"idle_chat_time":         0.01,
		"random_actions":         map[string]any{"kick": true},
	}}
	clocks := roomstate.New()
	cl := chatlog.New(50)
	cl.Append("#r", "anOp", "hi")
	cl.Append("#r", "gone", "hi")
	cl.Append("#r", "alice", "hi")
	replier := &fakeReplier{}
	roster := &fakeRoster{
		nick:    "bot",
		ops:     map[string]bool{"#r/bot": true, "#r/anOp": true},
		members: map[string][]string{"#r": {"bot", "anOp", "alice"}},
	}
	s := newScheduler(&cfg, roster, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerAction(context.Background(), "#r")

	if len(replier.kicks) != 1 || replier.kicks[0] != "alice" {
		t.Fatalf("expected kick target alice, got %v", replier.kicks)
	}
}

func TestConsiderContinuation_FiresWithinWindow(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_continue": true, "ai_continue_mins": 5.0, "ai_continue_freq": 30.0}}
	clocks := roomstate.New()
	clocks.TouchTrigger("#r")
	clocks.SetNextContinuation("#r", time.Now().Add(-time.Second))
	cl := chatlog.New(50)
	cl.Append("#r", "alice", "hi")
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	s.considerContinuation(context.Background(), "#r")

	if len(replier.continuation) != 1 {
		t.Fatalf("expected continuation trigger, got %v", replier.continuation)
	}
	next, ok := clocks.NextContinuation("#r")
	if !ok || !next.After(time.Now()) {
		t.Error("expected nextContinuation rescheduled into the future")
	}
}

func TestConsiderContinuation_SkipsSpeakingWhenSelfWasLast(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_continue": true, "ai_continue_mins": 5.0, "ai_continue_freq": 30.0}}
	clocks := roomstate.New()
	clocks.TouchTrigger("#r")
	clocks.SetNextContinuation("#r", time.Now().Add(-time.Second))
	cl := chatlog.New(50)
	cl.Append("#r", "bot", "already spoke")
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	s.considerContinuation(context.Background(), "#r")

	if len(replier.continuation) != 0 {
		t.Error("expected no continuation speech when bot was last speaker")
	}
}

func TestConsiderContinuation_ClearsAfterWindowLapses(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_continue": true, "ai_continue_mins": 0.0001, "ai_continue_freq": 30.0}}
	clocks := roomstate.New()
	clocks.TouchTrigger("#r")
	clocks.SetNextContinuation("#r", time.Now().Add(-time.Second))
	cl := chatlog.New(50)
	replier := &fakeReplier{}
	s := newScheduler(&cfg, &fakeRoster{nick: "bot"}, replier, cl, clocks)

	time.Sleep(20 * time.Millisecond)
	s.considerContinuation(context.Background(), "#r")

	if len(replier.continuation) != 0 {
		t.Error("expected no continuation once the trigger window has lapsed")
	}
	if _, ok := clocks.NextContinuation("#r"); ok {
		t.Error("expected nextContinuation cleared")
	}
}

func TestCheckPresence_RejoinsMissingRoom(t *testing.T) {
	roster := &fakeRoster{nick: "bot", joined: []string{"#a", "#b"}, pending: map[string]bool{"#a": true, "#b": false}}
	emitter := &fakeEmitter{}
	s := New(Deps{
		Roster:  roster,
		ChatLog: chatlog.New(50),
		Clocks:  roomstate.New(),
		Config:  &roomconfig.View{},
		Reply:   &fakeReplier{},
		Emitter: emitter,
		Rand:    func() float64 { return 0 },
	})

	s.checkPresence()

	if len(emitter.lines) != 1 || emitter.lines[0] != "JOIN #b" {
		t.Errorf("got %v", emitter.lines)
	}
}

func TestStartStop_NoPanicOnQuickStop(t *testing.T) {
	s := newScheduler(&roomconfig.View{}, &fakeRoster{nick: "bot"}, &fakeReplier{}, chatlog.New(10), roomstate.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}
