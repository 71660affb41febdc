package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLifecycleMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewLifecycleMetrics(registry).(*lifecycleMetrics)

	m.IncConfirmation("granted")
	m.IncConfirmation("granted")
	m.IncConfirmation("ignored")
	m.IncExpired()
	m.IncBestEffortFailure("revoke")
	m.ObserveSweep("completed", 20*time.Millisecond)
	m.ObserveSweep("skipped", 0)
	m.SetActiveSubscribers(3)

	if got := testutil.ToFloat64(m.confirmations.WithLabelValues("granted")); got != 2 {
		t.Errorf("granted confirmations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.expired); got != 1 {
		t.Errorf("expired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.bestEffortFailures.WithLabelValues("revoke")); got != 1 {
		t.Errorf("revoke failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sweeps.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped sweeps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeSubscribers); got != 3 {
		t.Errorf("active subscribers = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.sweepDuration); got != 1 {
		t.Errorf("sweep duration series = %d, want 1", got)
	}
}
