// Package flood implements the channel and private-message flood
// detectors: sliding-window counters that trip into a timed ban (channel)
// or a timed ignore (private messages).
package flood

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/metrics"
)

// Window is a flood detector's configuration: trip after lines messages
// within seconds, then penalize for penaltySeconds.
type Window struct {
	Lines          int
	Seconds        time.Duration
	PenaltySeconds time.Duration
}

// Action is one protocol command the caller must emit in response to a
// detected channel flood, in order.
type Action struct {
	Command string
}

// Detector tracks sliding windows of recent message timestamps per
// (room, nick) for channel floods, and per nick for private-message
// floods, plus the resulting timed bans/ignores.
type Detector struct {
	mu sync.Mutex

	channelTimestamps map[string]map[string][]time.Time // room -> nick -> times
	privateTimestamps map[string][]time.Time             // nick -> times

	bans    map[string]map[string]time.Time // room -> nick -> expiry
	ignores map[string]time.Time            // nick -> expiry

	now func() time.Time
}

// New returns an empty Detector.
func New() *Detector {
	return &Detector{
		channelTimestamps: make(map[string]map[string][]time.Time),
		privateTimestamps: make(map[string][]time.Time),
		bans:              make(map[string]map[string]time.Time),
		ignores:           make(map[string]time.Time),
		now:               time.Now,
	}
}

// CheckChannel records a channel message from nick (with userhost in
// nick!ident@host form) and reports whether the sender has now tripped
// the flood window. Operators and admins always pass through and are
// never added to the window. A room with no window configured (zero
// value) always passes.
//
// When flood is detected, the returned actions are the ordered protocol
// commands to emit — a ban of the sender's host mask followed by a kick —
// and the nick's window is cleared.
func (d *Detector) CheckChannel(room, nick, userhost string, isOp, isAdmin bool, w Window) (flooding bool, actions []Action) {
	if isOp || isAdmin {
		return false, nil
	}
	if w.Lines <= 0 {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if d.isBannedLocked(room, nick, now) {
		return true, nil
	}

	if d.channelTimestamps[room] == nil {
		d.channelTimestamps[room] = make(map[string][]time.Time)
	}
	times := d.channelTimestamps[room][nick]
	times = pruneOlderThan(times, now, w.Seconds)
	times = append(times, now)

	if len(times) >= w.Lines {
		if d.bans[room] == nil {
			d.bans[room] = make(map[string]time.Time)
		}
		d.bans[room][nick] = now.Add(w.PenaltySeconds)
		delete(d.channelTimestamps[room], nick)

		host := userhost
		if i := strings.IndexByte(userhost, '@'); i >= 0 {
			host = userhost[i+1:]
		}
		banMask := fmt.Sprintf("*!*@%s", host)
		return true, []Action{
			{Command: fmt.Sprintf("MODE %s +b %s", room, banMask)},
			{Command: fmt.Sprintf("KICK %s %s :Flood protection - banned for %s", room, nick, w.PenaltySeconds)},
		}
	}

	d.channelTimestamps[room][nick] = times
	return false, nil
}

// CheckPrivate records a private message from nick and reports whether
// the sender has now tripped the flood window. Admins always pass
// through. A zero-value window always passes.
func (d *Detector) CheckPrivate(nick string, isAdmin bool, w Window) (flooding bool) {
	if isAdmin {
		return false
	}
	if w.Lines <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if d.isIgnoredLocked(nick, now) {
		return true
	}

	times := pruneOlderThan(d.privateTimestamps[nick], now, w.Seconds)
	times = append(times, now)

	if len(times) >= w.Lines {
		d.ignores[nick] = now.Add(w.PenaltySeconds)
		delete(d.privateTimestamps, nick)
		metrics.FloodIgnores.Inc()
		return true
	}

	d.privateTimestamps[nick] = times
	return false
}

// isBannedLocked reports whether nick is currently banned from room,
// clearing the ban if it has expired. Caller must hold mu.
func (d *Detector) isBannedLocked(room, nick string, now time.Time) bool {
	roomBans, ok := d.bans[room]
	if !ok {
		return false
	}
	expiry, ok := roomBans[nick]
	if !ok {
		return false
	}
	if now.Before(expiry) {
		return true
	}
	delete(roomBans, nick)
	return false
}

// isIgnoredLocked reports whether nick is currently ignored, clearing
// the ignore if it has expired. Caller must hold mu.
func (d *Detector) isIgnoredLocked(nick string, now time.Time) bool {
	expiry, ok := d.ignores[nick]
	if !ok {
		return false
	}
	if now.Before(expiry) {
		return true
	}
	delete(d.ignores, nick)
	return false
}

func pruneOlderThan(times []time.Time, now time.Time, window time.Duration) []time.Time {
	out := times[:0]
	for _, t := range times {
		if now.Sub(t) <= window {
			out = append(out, t)
		}
	}
	return out
}
