package turnmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// New() registers against the default Prometheus registry, so it is only
// ever called once per process. These tests exercise the same vector
// shapes against an isolated registry instead, matching the donor's
// observability test texture.
func TestTurnsTotalLabelsIndependently(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_turns_total", Help: "test"},
		[]string{"action", "terminal"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("update", "false").Inc()
	counter.WithLabelValues("complete", "true").Inc()
	counter.WithLabelValues("complete", "true").Inc()

	if got := testutil.CollectAndCount(counter); got != 2 {
		t.Errorf("expected 2 label combinations, got %d", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("complete", "true")); got != 2 {
		t.Errorf("expected complete/true count 2, got %v", got)
	}
}
