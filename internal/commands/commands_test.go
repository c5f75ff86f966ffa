package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
)

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

type fakeRoster struct {
	members map[string][]string
	ops     map[string]bool
}

func (f *fakeRoster) Members(room string) []string { return f.members[room] }
func (f *fakeRoster) IsOp(room, nick string) bool   { return f.ops != nil && f.ops[room+"/"+nick] }

type fakeReload struct {
	rehashErr, reloadErr error
	rehashed, reloaded   bool
}

func (f *fakeReload) Rehash() error { f.rehashed = true; return f.rehashErr }
func (f *fakeReload) Reload() error { f.reloaded = true; return f.reloadErr }

type fakeLifecycle struct {
	reason string
	called bool
}

func (f *fakeLifecycle) Shutdown(reason string) { f.called = true; f.reason = reason }

type fakeReplier struct {
	topics []string
	kicks  []string
}

func (f *fakeReplier) Topic(_ context.Context, room string)          { f.topics = append(f.topics, room) }
func (f *fakeReplier) Kick(_ context.Context, room, target string)   { f.kicks = append(f.kicks, target) }

func newRegistry() (*Registry, *fakeEmitter, *fakeRoster, *fakeReload, *fakeLifecycle, *fakeReplier) {
	emitter := &fakeEmitter{}
	roster := &fakeRoster{members: map[string][]string{"#r": {"alice", "bob", "anOp"}}, ops: map[string]bool{"#r/anOp": true}}
	reload := &fakeReload{}
	life := &fakeLifecycle{}
	replier := &fakeReplier{}
	reg := New(Registry{
		Config:  &roomconfig.View{},
		Clocks:  roomstate.New(),
		ChatLog: chatlog.New(20),
		Roster:  roster,
		Emitter: emitter,
		Reload:  reload,
		Life:    life,
		Reply:   replier,
	})
	return reg, emitter, roster, reload, life, replier
}

func TestDispatch_UnknownCommandNotOK(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", false, false, false, "nosuch", nil)
	if ok {
		t.Error("expected unknown command to be rejected")
	}
}

func TestDispatch_RequiresOpRejectsPlainUser(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", false, false, false, "say", []string{"hi"})
	if ok {
		t.Error("expected say to require op")
	}
}

func TestDispatch_AdminBypassesOpRequirement(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	result, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", true, false, false, "say", []string{"hi", "there"})
	if !ok || result.Text != "hi there" {
		t.Errorf("got %+v ok=%v", result, ok)
	}
}

func TestDispatch_RoomOverrideDisablesCommand(t *testing.T) {
	cfg := &roomconfig.View{Rooms: map[string]roomconfig.Room{
		"#r": {Commands: map[string]roomconfig.CommandConfig{"info": {Enabled: false}}},
	}}
	reg := New(Registry{Config: cfg, Clocks: roomstate.New(), ChatLog: chatlog.New(10)})
	_, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", false, false, false, "info", nil)
	if ok {
		t.Error("expected room override to disable info")
	}
}

func TestSleepAndWake(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()

	result, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "sleep", []string{"10"})
	if !ok || !strings.Contains(result.Text, "10 minutes") {
		t.Fatalf("got %+v", result)
	}
	if !reg.Clocks.IsSleeping("#r") {
		t.Error("expected room to be sleeping")
	}

	result, ok = reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "wake", nil)
	if !ok || result.Text != "I'm awake! Ready to chat again." {
		t.Fatalf("got %+v", result)
	}
	if reg.Clocks.IsSleeping("#r") {
		t.Error("expected room to be awake")
	}
}

func TestSleep_RejectsOverSleepMax(t *testing.T) {
	cfg := &roomconfig.View{Global: map[string]any{"sleep_max": 5}}
	reg := New(Registry{Config: cfg, Clocks: roomstate.New(), ChatLog: chatlog.New(10)})
	result, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "sleep", []string{"10"})
	if !ok || !strings.Contains(result.Text, "cannot exceed 5") {
		t.Fatalf("got %+v", result)
	}
}

func TestKick_RejectsAbsentTarget(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	result, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "kick", []string{"ghost"})
	if !ok || !strings.Contains(result.Text, "don't see ghost") {
		t.Fatalf("got %+v", result)
	}
}

func TestKick_RejectsOpTarget(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	result, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "kick", []string{"anOp"})
	if !ok || !strings.Contains(result.Text, "too powerful") {
		t.Fatalf("got %+v", result)
	}
}

func TestKick_WithExplicitReasonEmitsDirectly(t *testing.T) {
	reg, emitter, _, _, _, _ := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "kick", []string{"alice", "spamming"})
	if !ok {
		t.Fatal("expected kick to be dispatched")
	}
	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "KICK #r alice :spamming" {
		t.Errorf("got %v", lines)
	}
}

func TestKick_WithoutReasonDelegatesToReplier(t *testing.T) {
	reg, emitter, _, _, _, replier := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "kick", []string{"alice"})
	if !ok {
		t.Fatal("expected kick to be dispatched")
	}
	if len(replier.kicks) != 1 || replier.kicks[0] != "alice" {
		t.Errorf("expected replier-generated kick, got %v", replier.kicks)
	}
	if len(emitter.all()) != 0 {
		t.Error("expected no direct KICK emitted when delegating to the replier")
	}
}

func TestTopic_WithArgsEmitsDirectly(t *testing.T) {
	reg, emitter, _, _, _, _ := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "op1", "o@h", false, true, false, "topic", []string{"new", "topic"})
	if !ok {
		t.Fatal("expected topic to dispatch")
	}
	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "TOPIC #r :new topic" {
		t.Errorf("got %v", lines)
	}
}

func TestDie_InvokesLifecycle(t *testing.T) {
	reg, _, _, _, life, _ := newRegistry()
	_, ok := reg.Dispatch(context.Background(), "#r", "admin1", "a@h", true, false, false, "die", []string{"bye"})
	if !ok || !life.called || life.reason != "bye" {
		t.Errorf("got called=%v reason=%q ok=%v", life.called, life.reason, ok)
	}
}

func TestRehash_ReportsFailure(t *testing.T) {
	emitter := &fakeEmitter{}
	reload := &fakeReload{rehashErr: errors.New("boom")}
	reg := New(Registry{Config: &roomconfig.View{}, Clocks: roomstate.New(), ChatLog: chatlog.New(10), Emitter: emitter, Reload: reload})
	result, ok := reg.Dispatch(context.Background(), "#r", "admin1", "a@h", true, false, false, "rehash", nil)
	if !ok || result.Text != "Failed to reload configuration." {
		t.Errorf("got %+v", result)
	}
}

func TestHelp_ListsRegisteredCommands(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	result, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", false, false, false, "help", nil)
	if !ok || !strings.Contains(result.Text, "say") || !strings.Contains(result.Text, "help") {
		t.Errorf("got %+v", result)
	}
}

func TestHelp_SpecificCommandUsage(t *testing.T) {
	reg, _, _, _, _, _ := newRegistry()
	result, ok := reg.Dispatch(context.Background(), "#r", "alice", "a@h", false, false, false, "help", []string{"kick"})
	if !ok || !strings.Contains(result.Text, "kick <nick>") {
		t.Errorf("got %+v", result)
	}
}
