// Package metrics provides prometheus instrumentation for the fund engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FundMetrics collects counters for the engine's control loop. All methods
// are safe on a nil receiver so instrumentation stays optional.
type FundMetrics struct {
	eventsDispatched *prometheus.CounterVec
	periodsTotal     prometheus.Counter
	eventsPerPeriod  prometheus.Histogram
}

// New registers and returns the engine's metric set.
func New(reg prometheus.Registerer) *FundMetrics {
	m := &FundMetrics{
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fund",
			Name:      "events_dispatched_total",
			Help:      "Events dispatched by the engine, by kind.",
		}, []string{"kind"}),
		periodsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fund",
			Name:      "periods_total",
			Help:      "Completed trading periods.",
		}),
		eventsPerPeriod: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fund",
			Name:      "events_per_period",
			Help:      "Events drained in a single period.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	reg.MustRegister(m.eventsDispatched, m.periodsTotal, m.eventsPerPeriod)
	return m
}

// EventDispatched records one dispatched event of the given kind.
func (m *FundMetrics) EventDispatched(kind string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(kind).Inc()
}

// PeriodCompleted records one completed trading period.
func (m *FundMetrics) PeriodCompleted() {
	if m == nil {
		return
	}
	m.periodsTotal.Inc()
}

// PeriodDrained records how many events a period's drain processed.
func (m *FundMetrics) PeriodDrained(events int) {
	if m == nil {
		return
	}
	m.eventsPerPeriod.Observe(float64(events))
}
