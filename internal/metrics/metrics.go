package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starbot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Slack metrics
	SlackEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_slack_events_received_total",
			Help: "Total number of Slack stream events received",
		},
		[]string{"kind"},
	)

	SlackAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_slack_api_calls_total",
			Help: "Total number of Slack Web API calls",
		},
		[]string{"method", "status"},
	)

	SlackRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_slack_rate_limited_total",
			Help: "Total number of Slack calls answered with a rate limit",
		},
		[]string{"method"},
	)

	ActiveBots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starbot_active_bots",
			Help: "Number of bots with a live stream connection",
		},
	)

	// Command metrics
	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_commands_dispatched_total",
			Help: "Total number of commands dispatched",
		},
		[]string{"command", "source", "status"},
	)

	// Scan metrics
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_scans_total",
			Help: "Total number of channel scans",
		},
		[]string{"status"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "starbot_scan_duration_seconds",
			Help:    "Duration of channel scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScheduledScansSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starbot_scheduled_scans_skipped_total",
			Help: "Scheduled scans skipped because the channel was still being scanned",
		},
	)

	LinksDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starbot_links_discovered_total",
			Help: "Total number of candidate links found by scans",
		},
	)

	LinksSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starbot_links_saved_total",
			Help: "Total number of new links persisted",
		},
	)

	LinksBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starbot_links_blocked_total",
			Help: "Total number of links dropped by the blacklist",
		},
	)

	Reactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_reactions_total",
			Help: "Total number of reaction attempts",
		},
		[]string{"status"},
	)

	BlacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starbot_blacklist_size",
			Help: "Number of banned link fragments",
		},
	)

	// Database metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starbot_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starbot_database_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TotalLinks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starbot_total_links",
			Help: "Total number of links in the store",
		},
	)
)

// Status maps an error to the status label used across counters
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
