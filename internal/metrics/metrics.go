// Package metrics defines and registers the Prometheus collectors for shaker.
// All collectors live in the default registry and are exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shaker"

// SessionsLive tracks the number of admitted websocket sessions.
var SessionsLive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_live",
		Help:      "Number of currently admitted sessions.",
	},
)

// AdmissionsTotal counts admission attempts.
// Label:
//   - result: "accepted", "invalid_token" or "already_connected"
var AdmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Total number of session admission attempts, by result.",
	},
	[]string{"result"},
)

// ActionsTotal counts applied perform_action events.
var ActionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "actions_total",
		Help:      "Total number of score actions applied.",
	},
)

// UpgradesTotal counts successful purchases.
// Label:
//   - kind: "per_action" or "passive"
var UpgradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upgrades_total",
		Help:      "Total number of successful upgrade purchases, by kind.",
	},
	[]string{"kind"},
)

// AdminCommandsTotal counts admin commands by outcome.
// Labels:
//   - command: inbound event name (e.g. "rename_user")
//   - outcome: "ok", "denied" or "failed"
var AdminCommandsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_commands_total",
		Help:      "Total number of admin commands, by command and outcome.",
	},
	[]string{"command", "outcome"},
)

// PersistTotal counts snapshot writes.
// Label:
//   - result: "ok" or "error"
var PersistTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_total",
		Help:      "Total number of snapshot writes, by result.",
	},
	[]string{"result"},
)

// PersistDuration measures how long a snapshot write takes.
var PersistDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "persist_duration_seconds",
		Help:      "Duration of snapshot writes to durable storage.",
		Buckets:   prometheus.DefBuckets,
	},
)
