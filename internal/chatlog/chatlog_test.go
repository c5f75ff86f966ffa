package chatlog

import "testing"

func TestAppendAndTail(t *testing.T) {
	s := New(10)
	s.Append("#room", "alice", "hi")
	s.Append("#room", "bob", "hello")

	tail := s.Tail("#room", 10)
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail))
	}
	if tail[0].Speaker != "alice" || tail[1].Speaker != "bob" {
		t.Errorf("unexpected order: %+v", tail)
	}
}

func TestRoomKeysNormalizedToLowercase(t *testing.T) {
	s := New(10)
	s.Append("#Room", "alice", "hi")

	tail := s.Tail("#room", 10)
	if len(tail) != 1 {
		t.Fatalf("expected case-insensitive room match, got %d entries", len(tail))
	}
}

func TestEvictionIsFIFO(t *testing.T) {
	s := New(3)
	for i, who := range []string{"a", "b", "c", "d"} {
		s.Append("#room", who, "msg")
		_ = i
	}
	tail := s.Tail("#room", 10)
	if len(tail) != 3 {
		t.Fatalf("expected bound of 3, got %d", len(tail))
	}
	if tail[0].Speaker != "b" || tail[2].Speaker != "d" {
		t.Errorf("expected oldest evicted, got %+v", tail)
	}
}

func TestLast(t *testing.T) {
	s := New(10)
	if _, ok := s.Last("#room"); ok {
		t.Fatal("expected no last entry on empty log")
	}
	s.Append("#room", "alice", "hi")
	s.Append("#room", "bob", "hello")
	last, ok := s.Last("#room")
	if !ok || last.Speaker != "bob" {
		t.Errorf("expected last speaker bob, got %+v", last)
	}
}

func TestRecentSpeakers_DeduplicatedMostRecentFirst(t *testing.T) {
	s := New(10)
	s.Append("#room", "alice", "1")
	s.Append("#room", "bob", "2")
	s.Append("#room", "alice", "3")
	s.Append("#room", "carol", "4")

	speakers := s.RecentSpeakers("#room", 10)
	want := []string{"carol", "alice", "bob"}
	if len(speakers) != len(want) {
		t.Fatalf("got %v, want %v", speakers, want)
	}
	for i := range want {
		if speakers[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, speakers[i], want[i])
		}
	}
}
