// Package observability wires tracing and the domain Prometheus collectors.
//
// Label sets are closed: award labels come from the award table, lookup
// results and reminder states from fixed constants, update kinds from the
// bot dispatcher. None of them carry chat ids or phone numbers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PromosIssued counts promo codes appended to the roster by award.
	PromosIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promos_issued_total",
			Help: "Total number of promo codes issued.",
		},
		[]string{"award"},
	)

	// PromoLookups counts latest-promo lookups by result (found|absent|error).
	PromoLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_lookups_total",
			Help: "Total number of latest-promo lookups.",
		},
		[]string{"result"},
	)

	// RemindersSent counts reminders delivered and recorded.
	RemindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Total number of reminders delivered.",
		},
	)

	// ReminderDecisions counts per-user scheduler decisions by state.
	ReminderDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_decisions_total",
			Help: "Reminder scheduler decisions by derived user state.",
		},
		[]string{"state"},
	)

	// ReminderRunDuration observes the wall time of one full scan.
	ReminderRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_run_duration_seconds",
			Help:    "Duration of reminder scans in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
	)

	// BotUpdates counts chat updates handled by kind.
	BotUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Chat updates handled by kind.",
		},
		[]string{"kind"},
	)

	// SupervisorRestarts counts restarts of supervised background tasks.
	SupervisorRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_restarts_total",
			Help: "Restarts of supervised background tasks.",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(
		PromosIssued,
		PromoLookups,
		RemindersSent,
		ReminderDecisions,
		ReminderRunDuration,
		BotUpdates,
		SupervisorRestarts,
	)
}
