package reply

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/relaycore/relaybot/internal/chatlog"
	"github.com/relaycore/relaybot/internal/llm"
	"github.com/relaycore/relaybot/internal/roomconfig"
	"github.com/relaycore/relaybot/internal/roomstate"
	"github.com/relaycore/relaybot/internal/router"
)

type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) GenerateReply(context.Context, llm.ReplyRequest) (string, error) {
	return s.reply, s.err
}
func (s *stubLLM) GenerateTopic(context.Context, llm.TopicRequest) (string, error) {
	return s.reply, s.err
}
func (s *stubLLM) GenerateKickReason(context.Context, llm.KickRequest) (string, error) {
	return s.reply, s.err
}
func (s *stubLLM) GenerateEntrance(context.Context, llm.EntranceRequest) (string, error) {
	return s.reply, s.err
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
func (e *fakeEmitter) Send(cmd string) error { return e.Raw(cmd) }

func (e *fakeEmitter) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.lines))
	copy(out, e.lines)
	return out
}

type fakeRoster struct{ nick string }

func (f fakeRoster) CurrentNick() string        { return f.nick }
func (f fakeRoster) Members(string) []string    { return []string{f.nick, "alice", "bob"} }

func newPipeline(stub *stubLLM, emitter *fakeEmitter) *Pipeline {
	return New(Pipeline{
		LLM:     stub,
		ChatLog: chatlog.New(50),
		Config:  &roomconfig.View{},
		Roster:  fakeRoster{nick: "Q"},
		Emitter: emitter,
		Clocks:  roomstate.New(),
	})
}

func TestTrigger_SendsSimpleReply(t *testing.T) {
	emitter := &fakeEmitter{}
	p := newPipeline(&stubLLM{reply: "hello, alice"}, emitter)

	p.Trigger(context.Background(), router.ReplyTrigger{Room: "#r", Speaker: "alice", Text: "hi"})

	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "PRIVMSG #r :hello, alice" {
		t.Errorf("got %v", lines)
	}
}

func TestTrigger_AppendsOwnReplyToHistory(t *testing.T) {
	emitter := &fakeEmitter{}
	cl := chatlog.New(50)
	p := New(Pipeline{
		LLM:     &stubLLM{reply: "hi there"},
		ChatLog: cl,
		Config:  &roomconfig.View{},
		Roster:  fakeRoster{nick: "Q"},
		Emitter: emitter,
		Clocks:  roomstate.New(),
	})

	p.Trigger(context.Background(), router.ReplyTrigger{Room: "#r", Speaker: "alice", Text: "hi"})

	tail := cl.Tail("#r", 0)
	if len(tail) != 1 || tail[0].Speaker != "Q" || tail[0].Text != "hi there" {
		t.Errorf("got %+v", tail)
	}
}

func TestTrigger_FallsBackOnError(t *testing.T) {
	emitter := &fakeEmitter{}
	p := newPipeline(&stubLLM{err: context.DeadlineExceeded}, emitter)

	p.Trigger(context.Background(), router.ReplyTrigger{Room: "#r", Speaker: "alice", Text: "hi"})

	lines := emitter.all()
	if len(lines) != 1 || !strings.Contains(lines[0], llm.FallbackError) {
		t.Errorf("got %v", lines)
	}
}

func TestPostProcess_StripsWrappingQuotes(t *testing.T) {
	got := postProcess(`"quoted line"`)
	if got != "quoted line" {
		t.Errorf("got %q", got)
	}
}

func TestPostProcess_BoldAndUnderline(t *testing.T) {
	got := postProcess("this is **bold** and _under_ text")
	if !strings.Contains(got, "\x02bold\x02") {
		t.Errorf("bold not converted: %q", got)
	}
	if !strings.Contains(got, "\x1Funder\x1F") {
		t.Errorf("underline not converted: %q", got)
	}
}

func TestPostProcess_CollapsesNewlines(t *testing.T) {
	got := postProcess("line one\nline two\r\nline three")
	if strings.ContainsAny(got, "\r\n") {
		t.Errorf("newlines not collapsed: %q", got)
	}
	if got != "line one line two line three" {
		t.Errorf("got %q", got)
	}
}

func TestChunk_SplitsAtSentenceBoundary(t *testing.T) {
	text := "First sentence here. Second sentence follows now."
	chunks := chunk(text, 25)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %v", chunks)
	}
	if chunks[0] != "First sentence here." {
		t.Errorf("expected first chunk to end at the sentence boundary, got %q", chunks[0])
	}
	for _, c := range chunks {
		if len(c) > 25 {
			t.Errorf("chunk exceeds limit: %q (%d)", c, len(c))
		}
	}
	if strings.Join(chunks, " ") == "" {
		t.Error("lost content while chunking")
	}
}

func TestChunk_FallsBackToWordBoundary(t *testing.T) {
	text := strings.Repeat("word ", 10)
	chunks := chunk(text, 12)
	for _, c := range chunks {
		if len(c) > 12 {
			t.Errorf("chunk exceeds limit: %q", c)
		}
	}
}

func TestChunk_HardCutWhenNoBoundary(t *testing.T) {
	text := strings.Repeat("x", 30)
	chunks := chunk(text, 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestTopic_EmitsTopicCommand(t *testing.T) {
	emitter := &fakeEmitter{}
	p := newPipeline(&stubLLM{reply: "a new topic"}, emitter)

	p.Topic(context.Background(), "#r")

	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "TOPIC #r :a new topic" {
		t.Errorf("got %v", lines)
	}
}

func TestKick_EmitsKickCommand(t *testing.T) {
	emitter := &fakeEmitter{}
	p := newPipeline(&stubLLM{reply: "rule breaker"}, emitter)

	p.Kick(context.Background(), "#r", "troll")

	lines := emitter.all()
	if len(lines) != 1 || lines[0] != "KICK #r troll :rule breaker" {
		t.Errorf("got %v", lines)
	}
}

func TestRosterBlock_ExcludesSelfWhenEnabled(t *testing.T) {
	emitter := &fakeEmitter{}
	cfg := &roomconfig.View{Global: map[string]any{"ai_nicklist": true}}
	p := New(Pipeline{
		LLM:     &stubLLM{reply: "ok"},
		ChatLog: chatlog.New(50),
		Config:  cfg,
		Roster:  fakeRoster{nick: "Q"},
		Emitter: emitter,
		Clocks:  roomstate.New(),
	})

	block := p.rosterBlock("#r")
	if strings.Contains(block, "Q") {
		t.Errorf("self nick should be excluded: %q", block)
	}
	if !strings.Contains(block, "alice") || !strings.Contains(block, "bob") {
		t.Errorf("expected other members present: %q", block)
	}
}

func TestRosterBlock_EmptyWhenDisabled(t *testing.T) {
	p := newPipeline(&stubLLM{}, &fakeEmitter{})
	if block := p.rosterBlock("#r"); block != "" {
		t.Errorf("expected empty roster block, got %q", block)
	}
}
