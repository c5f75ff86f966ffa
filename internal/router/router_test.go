package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaycore/relaybot/internal/access"
	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/flood"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
)

type fakeRoster struct {
	nick string
	ops  map[string]bool
}

func (f *fakeRoster) CurrentNick() string { return f.nick }
func (f *fakeRoster) IsOp(room, nick string) bool {
	return f.ops != nil && f.ops[room+"/"+nick]
}
func (f *fakeRoster) IsVoice(string, string) bool { return false }

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

func (e *fakeEmitter) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.lines))
	copy(out, e.lines)
	return out
}

type fakeCommands struct {
	result CommandResult
	ok     bool
	called bool
}

func (f *fakeCommands) Dispatch(_ context.Context, room, nick, userhost string, isAdmin, isOp, isVoice bool, name string, args []string) (CommandResult, bool) {
	f.called = true
	return f.result, f.ok
}

type fakeReplier struct {
	mu       sync.Mutex
	triggers []ReplyTrigger
}

func (f *fakeReplier) Trigger(_ context.Context, t ReplyTrigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
}

func (f *fakeReplier) all() []ReplyTrigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ReplyTrigger, len(f.triggers))
	copy(out, f.triggers)
	return out
}

func newRouter(t *testing.T, cfg *roomconfig.View, roster *fakeRoster) (*Router, *chatlog.Store, *fakeEmitter, *fakeCommands, *fakeReplier) {
	t.Helper()
	cl := chatlog.New(50)
	emitter := &fakeEmitter{}
	commands := &fakeCommands{}
	replier := &fakeReplier{}
	r := New(Deps{
		Roster:   roster,
		Access:   access.New(nil),
		Flood:    flood.New(),
		ChatLog:  cl,
		Clocks:   roomstate.New(),
		Config:   cfg,
		Commands: commands,
		Reply:    replier,
		Emitter:  emitter,
	})
	return r, cl, emitter, commands, replier
}

func TestIgnoreFilter_DropsConfiguredNick(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ignore_nicks": []string{"troll"}}}
	r, cl, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "troll", "t@h", "", "hello")

	if len(cl.Tail("#room", 0)) != 0 {
		t.Error("expected message not logged")
	}
	if len(replier.all()) != 0 {
		t.Error("expected no reply trigger")
	}
}

func TestIgnoreFilter_DropsMatchingRegex(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ignore_regex": []string{"^!bad"}}}
	r, cl, _, _, _ := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "!bad stuff")

	if len(cl.Tail("#room", 0)) != 0 {
		t.Error("expected message not logged")
	}
}

func TestChannelFlood_BansAndKicks(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{
		"floodpro": map[string]any{"lines": 1, "seconds": 5, "ban_time": 1},
	}}
	r, cl, emitter, _, _ := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "x", "u@h", "", "spam")

	lines := emitter.all()
	if len(lines) != 2 || lines[0] != "MODE #room +b *!*@h" {
		t.Errorf("got %v", lines)
	}
	if len(cl.Tail("#room", 0)) != 0 {
		t.Error("expected flooded message not logged")
	}
}

func TestCommandPrefix_DispatchesAndNeverLogsRaw(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"cmd_prefix": "!"}}
	r, cl, emitter, commands, _ := newRouter(t, &cfg, &fakeRoster{nick: "bot"})
	commands.ok = true
	commands.result = CommandResult{Text: "pong", AddToHistory: true}

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "!ping")

	if !commands.called {
		t.Fatal("expected command dispatch")
	}
	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "PRIVMSG #room :pong" {
		t.Errorf("got %v", lines)
	}
	tail := cl.Tail("#room", 0)
	if len(tail) != 1 || tail[0].Text != "pong" {
		t.Errorf("got %v", tail)
	}
}

func TestCommandPrefix_UnauthorizedProducesNoOutput(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"cmd_prefix": "!"}}
	r, cl, emitter, commands, _ := newRouter(t, &cfg, &fakeRoster{nick: "bot"})
	commands.ok = false

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "!kick someone")

	if len(emitter.all()) != 0 {
		t.Error("expected no output for unauthorized command")
	}
	if len(cl.Tail("#room", 0)) != 0 {
		t.Error("expected no history entry for an unresolved/unauthorized command")
	}
}

func TestWasSelfLast_SuppressesNonDirectReply(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_mention": true}}
	r, cl, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})
	cl.Append("#room", "bot", "still here")

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "talking about bot things")

	if len(replier.all()) != 0 {
		t.Error("expected no trigger when bot was last speaker")
	}
}

func TestDirectAddress_AlwaysTriggers(t *testing.T) {
	cfg := roomconfig.View{}
	r, cl, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})
	cl.Append("#room", "bot", "still here")

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "bot: hello there")

	waitForTriggers(t, replier, 1)
	got := replier.all()[0]
	if !got.Direct || got.Text != "bot: hello there" {
		t.Errorf("got %+v", got)
	}
}

func TestMention_TriggersWhenEnabled(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_mention": true}}
	r, _, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "hey bot how are you")

	waitForTriggers(t, replier, 1)
}

func TestMention_DoesNotTriggerWhenDisabled(t *testing.T) {
	cfg := roomconfig.View{}
	r, _, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "hey bot how are you")

	time.Sleep(20 * time.Millisecond)
	if len(replier.all()) != 0 {
		t.Error("expected no trigger without ai_mention enabled")
	}
}

func TestSleepGate_SuppressesTrigger(t *testing.T) {
	cfg := roomconfig.View{}
	r, _, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})
	r.deps.Clocks.Sleep("#room", time.Now().Add(time.Hour))

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "bot: wake up")

	time.Sleep(20 * time.Millisecond)
	if len(replier.all()) != 0 {
		t.Error("expected no trigger while room is sleeping")
	}
}

func TestReplyDelay_DeferredButEventuallyFires(t *testing.T) {
	cfg := roomconfig.View{Global: map[string]any{"ai_delay": []any{0.02, 0.02}}}
	r, _, _, _, replier := newRouter(t, &cfg, &fakeRoster{nick: "bot"})

	r.HandleChannelMessage(context.Background(), "#room", "alice", "a@h", "", "bot: hi")

	if len(replier.all()) != 0 {
		t.Error("expected trigger to be deferred, not immediate")
	}
	waitForTriggers(t, replier, 1)
}

func waitForTriggers(t *testing.T, replier *fakeReplier, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(replier.all()) >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected at least %d triggers, got %d", n, len(replier.all()))
}
