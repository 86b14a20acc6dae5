// Package metrics provides Prometheus metrics for fabricd: exchange
// traffic, MRP retransmissions, and active session/subscription counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Exchange / MRP ─────────────────────────────────────────────────────────

// MessagesSent tracks messages sent per protocol.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "messages_sent_total",
	Help:      "Total messages sent, by protocol.",
}, []string{"protocol"})

// Retransmits tracks MRP retransmissions per protocol.
var Retransmits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "retransmits_total",
	Help:      "Total MRP message retransmissions, by protocol.",
}, []string{"protocol"})

// RetransmitFailures tracks exchanges abandoned after exhausting retries.
var RetransmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "retransmit_failures_total",
	Help:      "Total exchanges abandoned after exhausting MRP retries, by protocol.",
}, []string{"protocol"})

// ExchangesOpen tracks currently active exchanges.
var ExchangesOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fabricd",
	Name:      "exchanges_open",
	Help:      "Number of currently open exchanges.",
})

// ─── Sessions ───────────────────────────────────────────────────────────────

// SessionsEstablished tracks established secure sessions by type (pase/case).
var SessionsEstablished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "sessions_established_total",
	Help:      "Total secure sessions established, by type.",
}, []string{"type"})

// SessionsActive tracks currently active secure sessions.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fabricd",
	Name:      "sessions_active",
	Help:      "Number of currently active secure sessions.",
})

// ─── Interaction Model ──────────────────────────────────────────────────────

// SubscriptionsActive tracks currently active subscriptions.
var SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fabricd",
	Name:      "subscriptions_active",
	Help:      "Number of currently active subscriptions.",
})

// ReportsSent tracks IM report transactions (read/subscribe reports) sent.
var ReportsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "reports_sent_total",
	Help:      "Total interaction model reports sent, by kind (read/subscribe).",
}, []string{"kind"})

// ─── BDX ────────────────────────────────────────────────────────────────────

// BDXTransfersActive tracks in-flight BDX transfers.
var BDXTransfersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fabricd",
	Name:      "bdx_transfers_active",
	Help:      "Number of currently active BDX transfers.",
})

// BDXBytesTransferred tracks total bytes moved over BDX, by direction.
var BDXBytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fabricd",
	Name:      "bdx_bytes_total",
	Help:      "Total bytes transferred over BDX, by direction (sent/received).",
}, []string{"direction"})
