// Package events provides a publish/subscribe event bus for operational
// observability. cmd/relaybot publishes connect/disconnect events for
// the session and the reload controller publishes the outcome of each
// reload or rehash; no other component publishes, and nothing in the
// binary subscribes (the control plane's /status does not read the bus).
// The bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSession identifies events from the protocol state machine.
	SourceSession = "session"
	// SourceRouter identifies events from the message router.
	SourceRouter = "router"
	// SourceScheduler identifies events from the per-room conversational loop.
	SourceScheduler = "scheduler"
	// SourceReload identifies events from the hot-reload controller.
	SourceReload = "reload"
	// SourceFlood identifies events from flood protection.
	SourceFlood = "flood"
)

// Kind constants describe the type of event within a source.
const (
	// KindConnected signals a server connection was established.
	// Data: host.
	KindConnected = "connected"
	// KindDisconnected signals the connection was lost.
	// Data: host.
	KindDisconnected = "disconnected"
	// KindRegistered signals registration (numeric 001) completed.
	// Data: nick.
	KindRegistered = "registered"
	// KindJoined signals our own JOIN to a room was confirmed.
	// Data: room.
	KindJoined = "joined"
	// KindKicked signals we were kicked from a room.
	// Data: room, by, reason.
	KindKicked = "kicked"

	// KindCommandDispatched signals a command was authorized and run.
	// Data: room, nick, command.
	KindCommandDispatched = "command_dispatched"
	// KindReplyTriggered signals the reply pipeline was asked to speak.
	// Data: room, direct.
	KindReplyTriggered = "reply_triggered"

	// KindIdleFired signals the scheduler emitted unprompted idle chat.
	// Data: room.
	KindIdleFired = "idle_fired"
	// KindActionFired signals the scheduler performed a random moderator action.
	// Data: room, kind.
	KindActionFired = "action_fired"
	// KindContinuationFired signals the scheduler continued the bot's own turn.
	// Data: room.
	KindContinuationFired = "continuation_fired"
	// KindRejoin signals the watchdog re-issued JOIN for a missing room.
	// Data: room.
	KindRejoin = "rejoin"

	// KindFloodBan signals a channel flood ban+kick was issued.
	// Data: room, nick.
	KindFloodBan = "flood_ban"
	// KindFloodIgnore signals a private-message flood ignore was set.
	// Data: nick.
	KindFloodIgnore = "flood_ignore"

	// KindReloadPhase signals a hot-reload controller phase transition.
	// Data: phase (pause/swap/resume), ok.
	KindReloadPhase = "reload_phase"
	// KindRehash signals a config-only reload completed.
	// Data: ok.
	KindRehash = "rehash"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
