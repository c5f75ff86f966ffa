package roomconfig

import "testing"

func TestGet_RoomOverridesGlobal(t *testing.T) {
	v := View{
		Global: map[string]any{"cmd_prefix": "!"},
		Rooms: map[string]Room{
			"#room": {Values: map[string]any{"cmd_prefix": "."}},
		},
	}
	if got := v.Get("#room", "cmd_prefix", "?"); got != "." {
		t.Errorf("got %v, want .", got)
	}
}

func TestGet_FallsBackToGlobal(t *testing.T) {
	v := View{
		Global: map[string]any{"cmd_prefix": "!"},
		Rooms:  map[string]Room{"#room": {Values: map[string]any{}}},
	}
	if got := v.Get("#room", "cmd_prefix", "?"); got != "!" {
		t.Errorf("got %v, want !", got)
	}
}

func TestGet_FallsBackToDefault(t *testing.T) {
	v := View{}
	if got := v.Get("#room", "missing", "fallback"); got != "fallback" {
		t.Errorf("got %v, want fallback", got)
	}
}

func TestGet_DottedKey(t *testing.T) {
	v := View{
		Global: map[string]any{
			"floodpro": map[string]any{"lines": 3},
		},
	}
	if got := v.Get("#room", "floodpro.lines", 0); got != 3 {
		t.Errorf("got %v, want 3", got)
	}
}

func TestGet_RoomCaseInsensitive(t *testing.T) {
	v := View{
		Rooms: map[string]Room{
			"#room": {Values: map[string]any{"k": "v"}},
		},
	}
	if got := v.Get("#Room", "k", "d"); got != "v" {
		t.Errorf("got %v, want v", got)
	}
}

func TestGetCommand_RoomBlockShadowsEntirely(t *testing.T) {
	v := View{
		GlobalCommands: map[string]CommandConfig{
			"say":  {Enabled: true, Requires: "any"},
			"kick": {Enabled: true, Requires: "op"},
		},
		Rooms: map[string]Room{
			"#room": {Commands: map[string]CommandConfig{
				"say": {Enabled: false, Requires: "admin"},
			}},
		},
	}

	cfg, ok := v.GetCommand("#room", "say")
	if !ok || cfg.Enabled || cfg.Requires != "admin" {
		t.Errorf("expected room override to win entirely, got %+v ok=%v", cfg, ok)
	}

	// "kick" is only defined globally; the room's command block exists
	// but does not define kick, so it must NOT fall back to global.
	_, ok = v.GetCommand("#room", "kick")
	if ok {
		t.Error("expected room's command block to shadow global entirely, not merge")
	}
}

func TestGetCommand_NoRoomBlockUsesGlobal(t *testing.T) {
	v := View{
		GlobalCommands: map[string]CommandConfig{
			"say": {Enabled: true, Requires: "any"},
		},
		Rooms: map[string]Room{
			"#room": {},
		},
	}
	cfg, ok := v.GetCommand("#room", "say")
	if !ok || !cfg.Enabled {
		t.Errorf("expected global command config, got %+v ok=%v", cfg, ok)
	}
}
