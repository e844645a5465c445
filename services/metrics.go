package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// copiesTotal counts variant copy operations by result.
	copiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbanksync_variant_copies_total",
		Help: "Variant copy operations by result (created, skipped, failed, deleted)",
	}, []string{"result"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qbanksync_reconcile_duration_seconds",
		Help:    "Duration of a missing-copy reconciliation pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	ledgerPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qbanksync_ledger_rows_purged_total",
		Help: "Ledger rows removed because their base or variant question disappeared",
	})

	tasksRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qbanksync_tasks_total",
		Help: "Delayed tasks run by type and result",
	}, []string{"type", "result"})
)
