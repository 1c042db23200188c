// Package metrics exposes Prometheus collectors for the lead engine.
//
// Counters are package-level promauto vars registered on the default
// registry; the API serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Leads ──────────────────────────────────────────────────────────────────

var LeadsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "leads",
	Name:      "created_total",
	Help:      "Leads persisted by intake.",
})

// LeadsFlagged counts monitoring flags (unfulfilled, exhausted).
var LeadsFlagged = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "leads",
	Name:      "flagged_total",
	Help:      "Leads flagged for monitoring, by flag.",
}, []string{"flag"})

// ─── Assignments ────────────────────────────────────────────────────────────

var AssignmentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "assignments",
	Name:      "created_total",
	Help:      "Assignments created, by source (allocator, reassignment).",
}, []string{"source"})

var AssignmentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "assignments",
	Name:      "skipped_total",
	Help:      "Contractors skipped during allocation, by reason.",
}, []string{"reason"})

var AssignmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "assignments",
	Name:      "transitions_total",
	Help:      "Assignment state transitions, by target status.",
}, []string{"status"})

// ─── Credits ────────────────────────────────────────────────────────────────

var CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "credits",
	Name:      "moved_total",
	Help:      "Credits moved through the ledger, by reason.",
}, []string{"reason"})

// ─── Sweeps ─────────────────────────────────────────────────────────────────

var SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "sweeps",
	Name:      "items_total",
	Help:      "Items handled by sweeps, by sweep and outcome.",
}, []string{"sweep", "outcome"})

var SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "leadengine",
	Subsystem: "sweeps",
	Name:      "duration_seconds",
	Help:      "Sweep run duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"sweep"})

// ─── Notifications ──────────────────────────────────────────────────────────

var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "leadengine",
	Subsystem: "notifications",
	Name:      "sent_total",
	Help:      "Notification attempts, by template and result.",
}, []string{"template", "result"})
