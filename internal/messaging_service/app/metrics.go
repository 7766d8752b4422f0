package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "delivery_status_transitions_total",
			Help:      "Delivery status transitions applied, by resulting status.",
		},
		[]string{"status"},
	)
	backwardTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "delivery_status_backward_total",
			Help:      "Out-of-order delivery callbacks dropped, by current and reported status.",
		},
		[]string{"current", "reported"},
	)
	reconcileOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "reconcile_outcomes_total",
			Help:      "Message id reconciliation attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	reconcileDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "messaging",
			Name:      "reconcile_duration_seconds",
			Help:      "End-to-end duration of a single reconciliation.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	sendsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging",
			Name:      "template_sends_total",
			Help:      "Template send attempts, by result.",
		},
		[]string{"result"},
	)
)
