package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "poly_trade_bot"

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		OrdersPlaced:         p.counter("orders_placed_total", "Total number of orders accepted by the exchange."),
		OrdersRejected:       p.counter("orders_rejected_total", "Total number of orders the exchange declined."),
		OrdersFailed:         p.counter("orders_failed_total", "Total number of order submissions that errored."),
		StrategyTicks:        p.counter("strategy_ticks_total", "Total number of strategy executions."),
		StrategyTickFailures: p.counter("strategy_tick_failures_total", "Total number of strategy executions that reported failure."),
		StrategyTicksSkipped: p.counter("strategy_ticks_skipped_total", "Total number of ticks skipped because the previous execution was still running."),
		RunningStrategies:    p.gauge("running_strategies", "Number of strategies with a live schedule."),
		AlertsTriggered:      p.counter("alerts_triggered_total", "Total number of alerts that fired."),
		PriceSamples:         p.counter("price_samples_total", "Total number of realtime price samples pushed."),
		PriceSampleFailures:  p.counter("price_sample_failures_total", "Total number of realtime price samples that failed."),
		ActiveSubscriptions:  p.gauge("active_subscriptions", "Number of live realtime price subscriptions."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return g
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
