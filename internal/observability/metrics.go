// Package observability turns orchestration events into Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/koscakluka/ema-relay/core/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	Effects           *prometheus.CounterVec
	AssistantRequests *prometheus.CounterVec
	PlaybackSegments  *prometheus.CounterVec
	Recognitions      *prometheus.CounterVec
	SessionResets     prometheus.Counter
	TurnDuration      *prometheus.HistogramVec
}

// NewMetrics registers the instruments on a registry of their own so several
// relays can live in one process.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn controller state transitions.",
		}, []string{"from", "to"}),
		Effects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_total",
			Help:      "Keyword effects triggered by tag.",
		}, []string{"tag"}),
		AssistantRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_requests_total",
			Help:      "Assistant requests by outcome.",
		}, []string{"outcome"}),
		PlaybackSegments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_segments_total",
			Help:      "Audio segments by fetch outcome.",
		}, []string{"outcome"}),
		Recognitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition results that did not start a turn.",
		}, []string{"result"}),
		SessionResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_resets_total",
			Help:      "Session identifier resets.",
		}),
		TurnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time from accepting an utterance to listening again.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
	}
}

// Observe is an orchestration event listener.
func (m *Metrics) Observe(event events.Event) {
	switch e := event.(type) {
	case events.TurnStateChanged:
		m.Transitions.WithLabelValues(e.From, e.To).Inc()
	case events.EffectTriggered:
		m.Effects.WithLabelValues(e.Tag).Inc()
	case events.AssistantResponseReceived:
		m.AssistantRequests.WithLabelValues("ok").Inc()
	case events.AssistantResponseFailed:
		m.AssistantRequests.WithLabelValues("failed").Inc()
	case events.AssistantPlaybackQueueReady:
		m.PlaybackSegments.WithLabelValues("fetched").Add(float64(e.Total))
		m.PlaybackSegments.WithLabelValues("dropped").Add(float64(e.Dropped))
	case events.RecognitionIgnored:
		m.Recognitions.WithLabelValues("ignored").Inc()
	case events.RecognitionDropped:
		m.Recognitions.WithLabelValues("dropped").Inc()
	case events.SessionReset:
		m.SessionResets.Inc()
	case events.TurnCompleted:
		m.TurnDuration.WithLabelValues(string(e.Outcome)).Observe(e.Duration().Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
