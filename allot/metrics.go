package allot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// METRICS
// =============================================================================

var (
	loadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allot_loads_total",
		Help: "Completed load-and-derive cycles.",
	})

	loadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allot_load_failures_total",
		Help: "Load-and-derive cycles that ended in error.",
	})

	loadsShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allot_loads_shared_total",
		Help: "Load calls that attached to an already in-flight load.",
	})

	deriveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allot_derive_seconds",
		Help:    "Wall time of a full recompute pass.",
		Buckets: prometheus.DefBuckets,
	})

	redeemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allot_redeems_total",
		Help: "Redemptions recorded, per item type.",
	}, []string{"item"})

	defeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allot_defeats_total",
		Help: "Admit-defeat events recorded, per item type.",
	}, []string{"item"})
)
