// Package metrics defines the Prometheus metrics of the login service.
// All metrics register with the default registry on package init and are
// served by promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autologin"

// ── Handshake metrics ─────────────────────────────────────────────────────────

// LoginRunsTotal counts finished attempt sequences.
// Label:
//   - outcome: "success" or "exhausted"
var LoginRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_runs_total",
		Help:      "Total number of login attempt sequences, by outcome.",
	},
	[]string{"outcome"},
)

// HandshakeFailuresTotal counts failed handshake attempts.
// Labels:
//   - stage: the attempt stage that failed (e.g. "issuing", "submitting")
//   - code: the failure code (e.g. "NETWORK_FAILURE", "CAPTCHA_INVALID")
var HandshakeFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshake_failures_total",
		Help:      "Total number of failed handshake attempts, by stage and failure code.",
	},
	[]string{"stage", "code"},
)

// RemoteRequestDuration measures calls to the CMS API.
// Labels:
//   - endpoint: "token", "captcha", "login" or "club_list"
//   - result: "ok", "network", "protocol"
var RemoteRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_request_duration_seconds",
		Help:      "Duration of CMS API requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint", "result"},
)

// ── Orchestrator metrics ──────────────────────────────────────────────────────

// JobRunsTotal counts job executions.
// Labels:
//   - trigger: "timer", "manual" or "daily"
//   - result: "success", "failure" or "panic"
var JobRunsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Total number of job executions, by trigger and result.",
	},
	[]string{"trigger", "result"},
)

// JobSkipsTotal counts timer fires that did not run.
// Label:
//   - reason: "in_flight" (previous run still going) or "locked" (held by another replica)
var JobSkipsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_skips_total",
		Help:      "Total number of skipped timer fires, by reason.",
	},
	[]string{"reason"},
)

// JobsRunning is the number of account jobs currently holding a concurrency slot.
var JobsRunning = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_running",
		Help:      "Number of account jobs currently executing a handshake.",
	},
)

// ScheduledAccounts is the number of live account timers.
var ScheduledAccounts = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_accounts",
		Help:      "Number of accounts with a live interval timer.",
	},
)

// ── Notification and maintenance metrics ──────────────────────────────────────

// NotificationsTotal counts notification mails.
// Labels:
//   - kind: "login_success" or "daily_digest"
//   - result: "sent" or "failed"
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Total number of notification mails, by kind and result.",
	},
	[]string{"kind", "result"},
)

// AttemptLogsPurgedTotal counts attempt records removed by retention.
var AttemptLogsPurgedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attempt_logs_purged_total",
		Help:      "Total number of attempt records deleted by the retention job.",
	},
)
