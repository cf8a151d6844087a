// Package metrics declares the Prometheus series exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "credits"

var (
	// CreditsSpent counts credits removed from balances by paid actions.
	CreditsSpent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "spent_total",
		Help:      "Credits debited from user balances",
	})

	DebitsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "debits_rejected_total",
		Help:      "Debit attempts that did not change a balance",
	}, []string{"reason"})

	CreditsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "granted_total",
		Help:      "Credits added to user balances",
	}, []string{"entry_type"})

	// Settlements counts settlement signals by gateway verdict and ledger result.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "settlements_total",
		Help:      "Settlement signals processed",
	}, []string{"outcome", "result"})

	PurchasesInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "purchases_initiated_total",
		Help:      "Purchase initiations by result",
	}, []string{"result"})

	AttachFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "attach_reference_failures_total",
		Help:      "Gateway references that could not be stored on a pending purchase",
	})

	Recovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "recovered_purchases_total",
		Help:      "Approved purchases credited by the recovery sweep",
	})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "errors_total",
		Help:      "Payment gateway call failures",
	}, []string{"provider", "op", "kind"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status",
	}, []string{"method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)
