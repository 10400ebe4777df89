package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetActiveSubscriptions(3)
	m.IncProbeFailure("dc01")
	m.IncProbeFailure("dc01")
	m.IncResubscription("dc01")
	m.IncSubscribeError()
	m.IncEventsReceived()
	m.SetWatchState("dc01", 2)

	if got := testutil.ToFloat64(m.activeSubscriptions); got != 3 {
		t.Errorf("active_subscriptions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.probeFailures.WithLabelValues("dc01")); got != 2 {
		t.Errorf("probe_failures_total{dc01} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resubscriptions.WithLabelValues("dc01")); got != 1 {
		t.Errorf("resubscriptions_total{dc01} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.watchState.WithLabelValues("dc01")); got != 2 {
		t.Errorf("watch_state{dc01} = %v, want 2", got)
	}

	m.ForgetHost("dc01")
	if n := testutil.CollectAndCount(m.watchState); n != 0 {
		t.Errorf("watch_state series after ForgetHost = %d, want 0", n)
	}

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count == 0 {
		t.Error("expected registered series")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetActiveSubscriptions(1)
	m.IncProbeFailure("h")
	m.IncResubscription("h")
	m.IncSubscribeError()
	m.IncEventsReceived()
	m.SetWatchState("h", 1)
	m.ForgetHost("h")
}
