// Package metrics declares relaybot's Prometheus collectors. Metrics
// are always collected in-process; SPEC_FULL.md's control.enabled only
// gates whether the /metrics scrape route is exposed.
//
// Naming convention: relaybot_<subsystem>_<name>. Counters for
// cumulative events, gauges for current state, histograms for latency
// distributions — mirroring the convention documented in the video
// conferencing pack's metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is a dedicated, non-default registry so relaybot's metrics
// never collide with another library's default-registry collectors in
// the same process.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Reconnects counts connection attempts per configured server,
	// labeled by outcome.
	Reconnects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "netconn",
		Name:      "reconnects_total",
		Help:      "Total connection attempts per server.",
	}, []string{"server", "outcome"})

	// TokenBucketWait records how long the writer blocked waiting for
	// the rate limiter.
	TokenBucketWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "relaybot",
		Subsystem: "tokenbucket",
		Name:      "wait_seconds",
		Help:      "Time a write spent waiting on the rate limiter.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
	})

	// FloodBans counts channel flood ban+kick actions, per room.
	FloodBans = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "flood",
		Name:      "bans_total",
		Help:      "Total channel flood bans issued.",
	}, []string{"room"})

	// FloodIgnores counts private-message flood ignores set.
	FloodIgnores = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "flood",
		Name:      "ignores_total",
		Help:      "Total private-message flood ignores set.",
	})

	// SchedulerActions counts scheduler-fired events per room and kind
	// (idle, topic, kick, continuation, rejoin).
	SchedulerActions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "scheduler",
		Name:      "actions_total",
		Help:      "Total scheduler-fired events.",
	}, []string{"room", "kind"})

	// RoomsJoined is a gauge of currently joined rooms.
	RoomsJoined = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "relaybot",
		Subsystem: "session",
		Name:      "rooms_joined",
		Help:      "Current number of joined rooms.",
	})

	// LLMCalls counts calls to the LLM service by operation and outcome
	// (ok, error, breaker_open).
	LLMCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Total LLM service calls.",
	}, []string{"operation", "outcome"})

	// AIServiceUp is a gauge of the last known reachability of a
	// configured ai_service, updated by its connwatch.Watcher.
	AIServiceUp = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaybot",
		Subsystem: "connwatch",
		Name:      "ai_service_up",
		Help:      "1 if the ai_service's last health probe succeeded, 0 otherwise.",
	}, []string{"service"})

	// AIServiceTransitions counts ready/down transitions observed by a
	// connwatch.Watcher, per service.
	AIServiceTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaybot",
		Subsystem: "connwatch",
		Name:      "transitions_total",
		Help:      "Total ready/down transitions per watched ai_service.",
	}, []string{"service", "state"})
)
