package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersRejected.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.StrategyTicks.Inc()
	prom.Metrics.StrategyTicks.Inc()
	prom.Metrics.StrategyTicksSkipped.Inc()
	prom.Metrics.AlertsTriggered.Inc()

	assertCounter(t, prom.counters["orders_placed_total"], 1)
	assertCounter(t, prom.counters["orders_rejected_total"], 1)
	assertCounter(t, prom.counters["orders_failed_total"], 1)
	assertCounter(t, prom.counters["strategy_ticks_total"], 2)
	assertCounter(t, prom.counters["strategy_ticks_skipped_total"], 1)
	assertCounter(t, prom.counters["alerts_triggered_total"], 1)
	assertCounter(t, prom.counters["price_samples_total"], 0)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.RunningStrategies.Inc()
	prom.Metrics.RunningStrategies.Inc()
	prom.Metrics.RunningStrategies.Dec()
	prom.Metrics.ActiveSubscriptions.Set(4)

	if got := testutil.ToFloat64(prom.gauges["running_strategies"]); got != 1 {
		t.Fatalf("expected 1 running strategy, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["active_subscriptions"]); got != 4 {
		t.Fatalf("expected 4 subscriptions, got %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "poly_trade_bot_orders_placed_total 1") {
		t.Fatalf("expected orders counter in output, got:\n%s", body)
	}
}

func TestNoopIsSafe(t *testing.T) {
	m := OrNoop(nil)
	m.OrdersPlaced.Inc()
	m.RunningStrategies.Dec()
	m.ActiveSubscriptions.Set(2)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if counter == nil {
		t.Fatalf("counter not registered")
	}
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
