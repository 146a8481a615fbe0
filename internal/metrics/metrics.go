// Package metrics exposes the Prometheus instruments for the scheduler
// and the liquidation pipeline. All instruments carry a chain label so
// one process can serve several chains.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "liqbot"

var (
	AccountsTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "accounts_tracked",
		Help:      "Number of collateral vaults currently tracked.",
	}, []string{"chain"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Entries in the scheduler priority queue, stale duplicates included.",
	}, []string{"chain"})

	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Per-vault scheduler passes executed.",
	}, []string{"chain"})

	PassErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pass_errors_total",
		Help:      "Scheduler passes that hit the catch-all retry path.",
	}, []string{"chain"})

	LiquidationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liquidations_submitted_total",
		Help:      "Liquidation transactions broadcast.",
	}, []string{"chain"})

	LiquidationsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liquidations_confirmed_total",
		Help:      "Liquidation transactions confirmed on chain.",
	}, []string{"chain"})

	LiquidationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "liquidations_failed_total",
		Help:      "Liquidation transactions that reverted or timed out.",
	}, []string{"chain"})

	FailedInits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "failed_initializations",
		Help:      "Vaults awaiting an initialization retry.",
	}, []string{"chain"})

	ScanCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_cursor_block",
		Help:      "Last block fully scanned for vault-created events.",
	}, []string{"chain"})

	CheckpointSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoint_saves_total",
		Help:      "Checkpoint files written.",
	}, []string{"chain"})
)
