package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Navigation metrics
	Navigations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnav_navigations_total",
			Help: "Navigations applied to the host application",
		},
		[]string{"kind", "result"}, // result: ok, not_found, open_failed
	)

	NavigationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatnav_navigation_duration_seconds",
			Help:    "Time spent switching entity and opening the chat",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Sync metrics
	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnav_history_writes_total",
			Help: "History entries pushed by the state to URL projection",
		},
		[]string{"kind"}, // chat or clear
	)

	SyncsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnav_syncs_skipped_total",
			Help: "Sync runs that did not touch history",
		},
		[]string{"reason"},
	)

	// Handoff metrics
	HandoffOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnav_handoff_operations_total",
			Help: "Handoff and short-link store operations",
		},
		[]string{"op", "result"},
	)

	DeepLinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnav_deep_links_total",
			Help: "Attempts to reveal a linked message",
		},
		[]string{"result"}, // found, retried, missing
	)
)
