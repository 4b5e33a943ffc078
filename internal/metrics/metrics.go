package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Processing metrics
	EmailsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_emails_matched_total",
		Help: "Total number of messages matched by a rule",
	}, []string{"account_id", "rule_id"})

	FeedItemsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_feed_items_created_total",
		Help: "Total number of feed items created",
	}, []string{"feed_id"})

	DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_duplicates_skipped_total",
		Help: "Total number of matched messages skipped as duplicates",
	}, []string{"feed_id", "tier"})

	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedmailer_processing_duration_seconds",
		Help:    "Time taken to process one account",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"account_id"})

	ProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_processing_errors_total",
		Help: "Total processing errors by account and kind",
	}, []string{"account_id", "kind"})

	// IMAP client metrics
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_fetch_attempts_total",
		Help: "Total FETCH attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})

	IMAPConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_imap_connections_total",
		Help: "Total IMAP connection attempts by outcome",
	}, []string{"account_id", "outcome"})

	BridgeDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedmailer_bridge_detections_total",
		Help: "Total connections identified as a local IMAP bridge",
	})

	// Scheduler metrics
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_scheduler_runs_total",
		Help: "Total scheduled account processing runs by outcome",
	}, []string{"account_id", "outcome"})

	SchedulerBackoffSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedmailer_scheduler_backoff_seconds",
		Help: "Current backoff delay applied to an account",
	}, []string{"account_id"})

	AccountsProcessing = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedmailer_accounts_processing",
		Help: "Number of accounts currently being processed concurrently",
	})

	// Retention compactor metrics
	ItemsRetained = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedmailer_feed_items_retained",
		Help: "Number of items retained per feed after the last compaction",
	}, []string{"feed_id"})

	ItemsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_feed_items_removed_total",
		Help: "Total items removed by the retention compactor by reason",
	}, []string{"feed_id", "reason"})

	// Circuit breaker metrics, shared with the resilience package.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feedmailer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// HTTP metrics
	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_feed_requests_total",
		Help: "Total feed rendering requests by feed and format",
	}, []string{"feed_id", "format"})

	// Error metrics
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedmailer_errors_total",
		Help: "Total errors by component",
	}, []string{"component", "type"})
)

// RecordProcessing records a completed account processing cycle.
func RecordProcessing(accountID string, durationSeconds float64, emailsMatched, itemsCreated int) {
	ProcessingDuration.WithLabelValues(accountID).Observe(durationSeconds)
}

// RecordError records an error against a component.
func RecordError(component, errorType string) {
	Errors.WithLabelValues(component, errorType).Inc()
}
