// Package metrics exposes the assistant's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

var (
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_messages_total",
			Help: "Messages appended to session logs",
		},
		[]string{"author"},
	)

	Intents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumos_intents_total",
			Help: "Replies by routed intent",
		},
		[]string{"intent"},
	)

	RejectedSubmits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumos_rejected_submits_total",
			Help: "Submissions rejected as empty, throttled or after close",
		},
	)

	Navigations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumos_navigations_total",
			Help: "Replies that pointed at a page section",
		},
	)

	VoiceInputErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumos_voice_input_errors_total",
			Help: "Voice capture failures of any kind",
		},
	)

	VoiceOutputErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumos_voice_output_errors_total",
			Help: "Speech synthesis failures",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumos_active_sessions",
			Help: "Open chat sessions",
		},
	)

	ReplyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumos_reply_latency_seconds",
			Help:    "Time from submission to assistant reply in seconds",
			Buckets: []float64{0.5, 1, 1.5, 2, 5, 10},
		},
	)

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lumos_uptime_seconds",
			Help: "Time since start in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

var (
	UserMessages      = Messages.WithLabelValues("user")
	AssistantMessages = Messages.WithLabelValues("assistant")
)

// IntentRouted returns the counter for replies routed to intent.
func IntentRouted(intent string) prometheus.Counter {
	return Intents.WithLabelValues(intent)
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
