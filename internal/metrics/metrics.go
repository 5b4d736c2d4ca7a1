package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sampler metrics
	AcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_acquisitions_total",
			Help: "Raw sensor acquisitions by outcome",
		},
		[]string{"machine", "status"}, // status: ok, transient, fatal
	)

	SamplesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_samples_emitted_total",
			Help: "Averaged samples emitted downstream",
		},
		[]string{"machine"},
	)

	LastSampleValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tempmon_last_sample_celsius",
			Help: "Most recent averaged temperature",
		},
		[]string{"machine"},
	)

	TickOverruns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_scheduler_overruns_total",
			Help: "Ticks that started late because the previous one overran",
		},
		[]string{"scheduler"},
	)

	EmitBlockDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tempmon_emit_block_seconds",
			Help:    "Time the sampler spent waiting to hand off an averaged sample",
			Buckets: []float64{.0001, .001, .01, .1, .5, 1, 5, 30},
		},
		[]string{"machine"},
	)

	// Engine metrics
	EngineMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_engine_messages_total",
			Help: "Inbound readings by outcome",
		},
		[]string{"status"}, // status: evaluated, malformed, state_error
	)

	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_alerts_published_total",
			Help: "Alert publications by reason",
		},
		[]string{"machine", "reason"}, // reason: initial, change, heartbeat
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempmon_alerts_suppressed_total",
			Help: "Evaluations that did not publish",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempmon_publish_failures_total",
			Help: "Alert publications the transport rejected",
		},
	)

	NotifyQueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_notify_queue_dropped_total",
			Help: "Notifications dropped because the delivery queue was full",
		},
		[]string{"queue"},
	)

	NotifyQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tempmon_notify_queue_depth",
			Help: "Notifications waiting for background delivery",
		},
		[]string{"queue"},
	)

	AlertState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tempmon_alert_state",
			Help: "Current alert value per machine (-1 low, 0 normal, 1 high)",
		},
		[]string{"machine"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmon_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
