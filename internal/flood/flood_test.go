package flood

import (
	"testing"
	"time"
)

func TestCheckChannel_TripsAfterThreshold(t *testing.T) {
	d := New()
	current := time.Now()
	d.now = func() time.Time { return current }

	w := Window{Lines: 3, Seconds: 5 * time.Second, PenaltySeconds: 60 * time.Second}

	for i := 0; i < 2; i++ {
		flooding, actions := d.CheckChannel("#room", "x", "x!u@h", false, false, w)
		if flooding {
			t.Fatalf("call %d: unexpected flood before threshold", i)
		}
		if actions != nil {
			t.Fatalf("call %d: unexpected actions before threshold", i)
		}
	}

	flooding, actions := d.CheckChannel("#room", "x", "x!u@h", false, false, w)
	if !flooding {
		t.Fatal("expected flood on third message")
	}
	if len(actions) != 2 {
		t.Fatalf("expected MODE+KICK actions, got %v", actions)
	}
	if actions[0].Command != "MODE #room +b *!*@h" {
		t.Errorf("unexpected ban command: %q", actions[0].Command)
	}
	if actions[1].Command != "KICK #room x :Flood protection - banned for 1m0s" {
		t.Errorf("unexpected kick command: %q", actions[1].Command)
	}
}

func TestCheckChannel_BanSuppressesSubsequentMessages(t *testing.T) {
	d := New()
	current := time.Now()
	d.now = func() time.Time { return current }

	w := Window{Lines: 1, Seconds: 5 * time.Second, PenaltySeconds: 60 * time.Second}
	d.CheckChannel("#room", "x", "x!u@h", false, false, w)

	flooding, actions := d.CheckChannel("#room", "x", "x!u@h", false, false, w)
	if !flooding {
		t.Fatal("expected suppressed-by-ban to report flooding")
	}
	if actions != nil {
		t.Error("expected no repeat ban/kick action while already banned")
	}
}

func TestCheckChannel_BanExpires(t *testing.T) {
	d := New()
	current := time.Now()
	d.now = func() time.Time { return current }

	w := Window{Lines: 1, Seconds: 5 * time.Second, PenaltySeconds: 1 * time.Second}
	d.CheckChannel("#room", "x", "x!u@h", false, false, w)

	current = current.Add(2 * time.Second)
	flooding, _ := d.CheckChannel("#room", "x", "x!u@h", false, false, w)
	if flooding {
		t.Error("expected ban to have expired")
	}
}

func TestCheckChannel_OpsAndAdminsBypass(t *testing.T) {
	d := New()
	w := Window{Lines: 1, Seconds: 5 * time.Second, PenaltySeconds: 60 * time.Second}

	if flooding, _ := d.CheckChannel("#room", "op", "op!u@h", true, false, w); flooding {
		t.Error("op should bypass flood detection")
	}
	if flooding, _ := d.CheckChannel("#room", "admin", "admin!u@h", false, true, w); flooding {
		t.Error("admin should bypass flood detection")
	}
}

func TestCheckChannel_SlidingWindowDropsOldTimestamps(t *testing.T) {
	d := New()
	current := time.Now()
	d.now = func() time.Time { return current }

	w := Window{Lines: 3, Seconds: 5 * time.Second, PenaltySeconds: 60 * time.Second}

	d.CheckChannel("#room", "x", "x!u@h", false, false, w)
	current = current.Add(10 * time.Second)
	flooding, _ := d.CheckChannel("#room", "x", "x!u@h", false, false, w)
	if flooding {
		t.Error("expected old timestamp to fall outside window")
	}
}

func TestCheckPrivate_TripsIntoIgnore(t *testing.T) {
	d := New()
	current := time.Now()
	d.now = func() time.Time { return current }

	w := Window{Lines: 2, Seconds: 5 * time.Second, PenaltySeconds: 30 * time.Second}

	if flooding := d.CheckPrivate("x", false, w); flooding {
		t.Fatal("unexpected flood on first message")
	}
	if flooding := d.CheckPrivate("x", false, w); !flooding {
		t.Fatal("expected flood on second message")
	}
	if flooding := d.CheckPrivate("x", false, w); !flooding {
		t.Error("expected subsequent messages to stay suppressed while ignored")
	}
}

func TestCheckPrivate_AdminBypasses(t *testing.T) {
	d := New()
	w := Window{Lines: 1, Seconds: 5 * time.Second, PenaltySeconds: 30 * time.Second}
	if flooding := d.CheckPrivate("admin", true, w); flooding {
		t.Error("admin should bypass private flood detection")
	}
}
