// Package telemetry exports Prometheus metrics for live session bridges. A
// LiveMetrics value is an event sink: attach it next to the client sink and it
// counts failovers, health transitions, dropped chunks and turn latencies.
package telemetry

import (
	"errors"

	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bifrost_live"

// LiveMetrics holds the collectors for live bridge events.
type LiveMetrics struct {
	events              *prometheus.CounterVec
	failovers           *prometheus.CounterVec
	authProfileFailures *prometheus.CounterVec
	reconnectAttempts   prometheus.Counter
	healthDegraded      prometheus.Counter
	healthRecovered     prometheus.Counter
	chunksDropped       *prometheus.CounterVec
	turnsCompleted      *prometheus.CounterVec
	roundTrip           *prometheus.HistogramVec
	interruptLatency    prometheus.Histogram
	turnDuration        prometheus.Histogram
	activeSessions      prometheus.Gauge
}

var latencyBuckets = []float64{.05, .1, .25, .5, .75, 1, 1.5, 2.5, 5, 10}

// NewLiveMetrics creates and registers the live bridge collectors. Collectors
// that are already registered on reg are reused.
func NewLiveMetrics(reg prometheus.Registerer) (*LiveMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &LiveMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted by live bridges, by type.",
		}, []string{"type"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Failover rotations between upstream candidates.",
		}, []string{"from_model", "to_model"}),
		authProfileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_profile_failures_total",
			Help:      "Failures recorded against an auth profile.",
		}, []string{"auth_profile"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Upstream connect retries.",
		}),
		healthDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_degraded_total",
			Help:      "Upstream connections reset after prolonged silence.",
		}),
		healthRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_recovered_total",
			Help:      "Degraded sessions that saw upstream activity again.",
		}),
		chunksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Stale client media chunks that were not forwarded.",
		}, []string{"modality"}),
		turnsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Completed turns, by the modality that opened them.",
		}, []string{"modality"}),
		roundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from client send to first model output.",
			Buckets:   latencyBuckets,
		}, []string{"modality"}),
		interruptLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interrupt_latency_seconds",
			Help:      "Time from interrupt request to upstream acknowledgement.",
			Buckets:   latencyBuckets,
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of completed turns.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Client sessions currently attached to a bridge.",
		}),
	}

	var err error
	m.events = register(reg, m.events, &err)
	m.failovers = register(reg, m.failovers, &err)
	m.authProfileFailures = register(reg, m.authProfileFailures, &err)
	m.reconnectAttempts = register(reg, m.reconnectAttempts, &err)
	m.healthDegraded = register(reg, m.healthDegraded, &err)
	m.healthRecovered = register(reg, m.healthRecovered, &err)
	m.chunksDropped = register(reg, m.chunksDropped, &err)
	m.turnsCompleted = register(reg, m.turnsCompleted, &err)
	m.roundTrip = register(reg, m.roundTrip, &err)
	m.interruptLatency = register(reg, m.interruptLatency, &err)
	m.turnDuration = register(reg, m.turnDuration, &err)
	m.activeSessions = register(reg, m.activeSessions, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an identical
// one is already registered. The first other error is stored in errp.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		if *errp == nil {
			*errp = err
		}
	}
	return c
}

// Emit records one bridge event.
func (m *LiveMetrics) Emit(event *schemas.LiveEvent) {
	m.events.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case schemas.LiveEventFailover:
		var from, to string
		if event.From != nil {
			from = event.From.Model
		}
		if event.To != nil {
			to = event.To.Model
		}
		m.failovers.WithLabelValues(from, to).Inc()
	case schemas.LiveEventAuthProfileFailed:
		m.authProfileFailures.WithLabelValues(event.AuthProfile).Inc()
	case schemas.LiveEventReconnectAttempt:
		m.reconnectAttempts.Inc()
	case schemas.LiveEventHealthDegraded:
		m.healthDegraded.Inc()
	case schemas.LiveEventHealthRecovered:
		m.healthRecovered.Inc()
	case schemas.LiveEventChunkDropped:
		m.chunksDropped.WithLabelValues(string(event.Modality)).Inc()
	case schemas.LiveEventRoundTrip:
		if event.RoundTripMs != nil {
			m.roundTrip.WithLabelValues(string(event.Modality)).Observe(seconds(*event.RoundTripMs))
		}
	case schemas.LiveEventInterruptLatency:
		if event.LatencyMs != nil {
			m.interruptLatency.Observe(seconds(*event.LatencyMs))
		}
	case schemas.LiveEventTurnCompleted:
		m.turnsCompleted.WithLabelValues(string(event.Modality)).Inc()
		if event.TurnDurationMs != nil {
			m.turnDuration.Observe(seconds(*event.TurnDurationMs))
		}
	}
}

// SessionOpened increments the active session gauge.
func (m *LiveMetrics) SessionOpened() { m.activeSessions.Inc() }

// SessionClosed decrements the active session gauge.
func (m *LiveMetrics) SessionClosed() { m.activeSessions.Dec() }

func seconds(ms int64) float64 {
	return float64(ms) / 1000
}
