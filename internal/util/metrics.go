package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of inbound gateway webhooks by event type",
	}, []string{"event_type"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of rejected webhooks",
	}, []string{"reason"})

	WebhooksDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhooks_duplicate_total",
		Help: "Total number of idempotently ignored webhook redeliveries",
	})

	WebhookAuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_auth_failures_total",
		Help: "Total number of webhook signature verification failures",
	})

	LedgerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_total",
		Help: "Total number of escrow ledger transitions by resulting status",
	}, []string{"to_status"})

	StateConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_state_conflicts_total",
		Help: "Total number of rejected illegal ledger transitions",
	})

	OrphanEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_orphan_events_total",
		Help: "Total number of webhooks with no matching ledger entry",
	})

	PayoutAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payout_attempts_total",
		Help: "Total number of transfer attempts against the gateway",
	})

	PayoutsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payouts_initiated_total",
		Help: "Total number of transfers accepted by the gateway",
	})

	PayoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_failed_total",
		Help: "Total number of payout episodes terminated without success",
	}, []string{"reason"})

	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of confirmed refunds",
	})

	ReconcileSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_sweeps_total",
		Help: "Total number of reconciliation sweep runs",
	})

	ReconciledEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciled_entries_total",
		Help: "Total number of stale entries resolved by reconciliation",
	}, []string{"outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of payment gateway HTTP calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
