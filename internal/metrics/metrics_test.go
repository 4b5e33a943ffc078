package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEmailsMatched(t *testing.T) {
	initial := testutil.ToFloat64(EmailsMatched.WithLabelValues("acct-1", "rule-1"))

	EmailsMatched.WithLabelValues("acct-1", "rule-1").Inc()

	if got := testutil.ToFloat64(EmailsMatched.WithLabelValues("acct-1", "rule-1")); got != initial+1 {
		t.Errorf("EmailsMatched = %v, want %v", got, initial+1)
	}
}

func TestFeedItemsCreated(t *testing.T) {
	initial := testutil.ToFloat64(FeedItemsCreated.WithLabelValues("feed-1"))

	FeedItemsCreated.WithLabelValues("feed-1").Inc()

	if got := testutil.ToFloat64(FeedItemsCreated.WithLabelValues("feed-1")); got != initial+1 {
		t.Errorf("FeedItemsCreated = %v, want %v", got, initial+1)
	}
}

func TestDuplicatesSkipped(t *testing.T) {
	tiers := []string{"message_id", "subject_from_date"}

	for _, tier := range tiers {
		t.Run(tier, func(t *testing.T) {
			initial := testutil.ToFloat64(DuplicatesSkipped.WithLabelValues("feed-1", tier))

			DuplicatesSkipped.WithLabelValues("feed-1", tier).Inc()

			if got := testutil.ToFloat64(DuplicatesSkipped.WithLabelValues("feed-1", tier)); got != initial+1 {
				t.Errorf("DuplicatesSkipped[%s] = %v, want %v", tier, got, initial+1)
			}
		})
	}
}

func TestRecordProcessing(t *testing.T) {
	RecordProcessing("acct-1", 0.75, 10, 3)
	// Histogram is tested indirectly; verifying it doesn't panic is sufficient.
	ProcessingDuration.WithLabelValues("acct-1").Observe(1.0)
}

func TestFetchAttempts(t *testing.T) {
	tests := []struct {
		strategy string
		outcome  string
	}{
		{"standard", "success"},
		{"bridge_alternate", "timeout"},
		{"uid_only", "success"},
	}

	for _, tt := range tests {
		t.Run(tt.strategy+"_"+tt.outcome, func(t *testing.T) {
			initial := testutil.ToFloat64(FetchAttempts.WithLabelValues(tt.strategy, tt.outcome))

			FetchAttempts.WithLabelValues(tt.strategy, tt.outcome).Inc()

			if got := testutil.ToFloat64(FetchAttempts.WithLabelValues(tt.strategy, tt.outcome)); got != initial+1 {
				t.Errorf("FetchAttempts[%s,%s] = %v, want %v", tt.strategy, tt.outcome, got, initial+1)
			}
		})
	}
}

func TestIMAPConnections(t *testing.T) {
	initial := testutil.ToFloat64(IMAPConnections.WithLabelValues("acct-1", "success"))

	IMAPConnections.WithLabelValues("acct-1", "success").Inc()

	if got := testutil.ToFloat64(IMAPConnections.WithLabelValues("acct-1", "success")); got != initial+1 {
		t.Errorf("IMAPConnections = %v, want %v", got, initial+1)
	}
}

func TestBridgeDetections(t *testing.T) {
	initial := testutil.ToFloat64(BridgeDetections)

	BridgeDetections.Inc()

	if got := testutil.ToFloat64(BridgeDetections); got != initial+1 {
		t.Errorf("BridgeDetections = %v, want %v", got, initial+1)
	}
}

func TestSchedulerRuns(t *testing.T) {
	initial := testutil.ToFloat64(SchedulerRuns.WithLabelValues("acct-1", "success"))

	SchedulerRuns.WithLabelValues("acct-1", "success").Inc()

	if got := testutil.ToFloat64(SchedulerRuns.WithLabelValues("acct-1", "success")); got != initial+1 {
		t.Errorf("SchedulerRuns = %v, want %v", got, initial+1)
	}
}

func TestSchedulerBackoffSeconds(t *testing.T) {
	SchedulerBackoffSeconds.WithLabelValues("acct-1").Set(30)

	if got := testutil.ToFloat64(SchedulerBackoffSeconds.WithLabelValues("acct-1")); got != 30 {
		t.Errorf("SchedulerBackoffSeconds = %v, want 30", got)
	}
}

func TestAccountsProcessing(t *testing.T) {
	initial := testutil.ToFloat64(AccountsProcessing)

	AccountsProcessing.Inc()
	if got := testutil.ToFloat64(AccountsProcessing); got != initial+1 {
		t.Errorf("AccountsProcessing after Inc = %v, want %v", got, initial+1)
	}

	AccountsProcessing.Dec()
	if got := testutil.ToFloat64(AccountsProcessing); got != initial {
		t.Errorf("AccountsProcessing after Dec = %v, want %v", got, initial)
	}
}

func TestItemsRetainedAndRemoved(t *testing.T) {
	ItemsRetained.WithLabelValues("feed-1").Set(42)
	if got := testutil.ToFloat64(ItemsRetained.WithLabelValues("feed-1")); got != 42 {
		t.Errorf("ItemsRetained = %v, want 42", got)
	}

	initial := testutil.ToFloat64(ItemsRemoved.WithLabelValues("feed-1", "max_age"))
	ItemsRemoved.WithLabelValues("feed-1", "max_age").Inc()
	if got := testutil.ToFloat64(ItemsRemoved.WithLabelValues("feed-1", "max_age")); got != initial+1 {
		t.Errorf("ItemsRemoved = %v, want %v", got, initial+1)
	}
}

func TestCircuitBreakerState(t *testing.T) {
	CircuitBreakerState.WithLabelValues("account-connect").Set(1)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("account-connect")); got != 1 {
		t.Errorf("CircuitBreakerState = %v, want 1", got)
	}
}

func TestFeedRequests(t *testing.T) {
	initial := testutil.ToFloat64(FeedRequests.WithLabelValues("feed-1", "rss"))

	FeedRequests.WithLabelValues("feed-1", "rss").Inc()

	if got := testutil.ToFloat64(FeedRequests.WithLabelValues("feed-1", "rss")); got != initial+1 {
		t.Errorf("FeedRequests = %v, want %v", got, initial+1)
	}
}

func TestRecordError(t *testing.T) {
	tests := []struct {
		component string
		errorType string
	}{
		{"imapclient", "auth"},
		{"store", "integrity"},
		{"scheduler", "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.component+"_"+tt.errorType, func(t *testing.T) {
			initial := testutil.ToFloat64(Errors.WithLabelValues(tt.component, tt.errorType))

			RecordError(tt.component, tt.errorType)

			if got := testutil.ToFloat64(Errors.WithLabelValues(tt.component, tt.errorType)); got != initial+1 {
				t.Errorf("Errors[%s,%s] = %v, want %v", tt.component, tt.errorType, got, initial+1)
			}
		})
	}
}

func TestMetricsRegistration(t *testing.T) {
	_ = testutil.ToFloat64(BridgeDetections)
	_ = testutil.ToFloat64(AccountsProcessing)
	_ = testutil.ToFloat64(EmailsMatched.WithLabelValues("a", "r"))
	_ = testutil.ToFloat64(FeedItemsCreated.WithLabelValues("f"))
	_ = testutil.ToFloat64(DuplicatesSkipped.WithLabelValues("f", "message_id"))
	_ = testutil.ToFloat64(ProcessingErrors.WithLabelValues("a", "transient"))
	_ = testutil.ToFloat64(FetchAttempts.WithLabelValues("standard", "success"))
	_ = testutil.ToFloat64(IMAPConnections.WithLabelValues("a", "success"))
	_ = testutil.ToFloat64(SchedulerRuns.WithLabelValues("a", "success"))
	_ = testutil.ToFloat64(SchedulerBackoffSeconds.WithLabelValues("a"))
	_ = testutil.ToFloat64(ItemsRetained.WithLabelValues("f"))
	_ = testutil.ToFloat64(ItemsRemoved.WithLabelValues("f", "max_age"))
	_ = testutil.ToFloat64(CircuitBreakerState.WithLabelValues("n"))
	_ = testutil.ToFloat64(FeedRequests.WithLabelValues("f", "rss"))
	_ = testutil.ToFloat64(Errors.WithLabelValues("c", "t"))

	ProcessingDuration.WithLabelValues("a").Observe(0.5)
}

func TestMetricNames(t *testing.T) {
	expected := "feedmailer_"

	metricsToCheck := []struct {
		name   string
		metric prometheus.Collector
	}{
		{"BridgeDetections", BridgeDetections},
		{"AccountsProcessing", AccountsProcessing},
		{"Errors", Errors},
	}

	for _, m := range metricsToCheck {
		t.Run(m.name, func(t *testing.T) {
			ch := make(chan prometheus.Metric, 1)
			m.metric.Collect(ch)
			metric := <-ch
			desc := metric.Desc().String()
			if !strings.Contains(desc, expected) {
				t.Errorf("Metric %s description doesn't contain prefix %s: %s", m.name, expected, desc)
			}
		})
	}
}
