package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Inc()
	Dec()
	Set(float64)
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersRejected Counter
	OrdersFailed   Counter

	StrategyTicks        Counter
	StrategyTickFailures Counter
	StrategyTicksSkipped Counter
	RunningStrategies    Gauge

	AlertsTriggered Counter

	PriceSamples        Counter
	PriceSampleFailures Counter
	ActiveSubscriptions Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}
func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:         n,
		OrdersRejected:       n,
		OrdersFailed:         n,
		StrategyTicks:        n,
		StrategyTickFailures: n,
		StrategyTicksSkipped: n,
		RunningStrategies:    g,
		AlertsTriggered:      n,
		PriceSamples:         n,
		PriceSampleFailures:  n,
		ActiveSubscriptions:  g,
	}
}

// OrNoop lets components accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
