package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"TRACE":   LevelTrace,
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLevel_Unknown(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestReplaceLevelNames_Trace(t *testing.T) {
	attr := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLevelNames(nil, attr)
	if got.Value.String() != "TRACE" {
		t.Errorf("got %q, want TRACE", got.Value.String())
	}
}

func TestReplaceLevelNames_OtherLevelsUntouched(t *testing.T) {
	attr := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelWarn)}
	got := ReplaceLevelNames(nil, attr)
	if got.Value.Any() != slog.LevelWarn {
		t.Errorf("got %v, want unchanged LevelWarn", got.Value.Any())
	}
}

func TestTraceRaw_GatedByToggle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	TraceRaw(logger, false, "out", "PRIVMSG #room :hi")
	if buf.Len() != 0 {
		t.Fatal("TraceRaw logged despite enabled=false")
	}

	TraceRaw(logger, true, "out", "PRIVMSG #room :hi")
	if !strings.Contains(buf.String(), "PRIVMSG #room :hi") {
		t.Errorf("expected logged line in output, got %q", buf.String())
	}
}

func TestTraceAPI_GatedByToggle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	TraceAPI(logger, false, "request", `{"model":"x"}`)
	if buf.Len() != 0 {
		t.Fatal("TraceAPI logged despite enabled=false")
	}

	TraceAPI(logger, true, "request", `{"model":"x"}`)
	if !strings.Contains(buf.String(), `body="{\"model\":\"x\"}"`) {
		t.Errorf("expected logged body in output, got %q", buf.String())
	}
}
