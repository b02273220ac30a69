package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"custodia/core/events"
	"custodia/native/custody"
)

type custodyMetrics struct {
	settlements *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

var (
	custodyMetricsOnce sync.Once
	custodyRegistry    *custodyMetrics
)

// CustodyMetrics returns the lazily-initialised metrics registry used to
// record settlement activity.
func CustodyMetrics() *custodyMetrics {
	custodyMetricsOnce.Do(func() {
		custodyRegistry = &custodyMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "custody",
				Name:      "settlements_total",
				Help:      "Total custody settlements segmented by outcome event type.",
			}, []string{"outcome"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "custodia",
				Subsystem: "custody",
				Name:      "transitions_total",
				Help:      "Total custody record transitions segmented by event type.",
			}, []string{"event"}),
		}
	})
	return custodyRegistry
}

// Register attaches the custody collectors to the supplied registry.
func (m *custodyMetrics) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m.settlements); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	if err := reg.Register(m.transitions); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return err
		}
	}
	return nil
}

// Collector is an events.Emitter that feeds the prometheus counters from
// the engine's event stream. It can wrap a downstream emitter so metrics
// ride alongside normal event delivery.
type Collector struct {
	metrics *custodyMetrics
	next    events.Emitter
}

// NewCollector builds a Collector forwarding to next (nil for none).
func NewCollector(next events.Emitter) *Collector {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Collector{metrics: CustodyMetrics(), next: next}
}

// Emit implements events.Emitter.
func (c *Collector) Emit(evt events.Event) {
	if c == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	if eventType != "" {
		c.metrics.transitions.WithLabelValues(eventType).Inc()
	}
	switch eventType {
	case custody.EventTypeFlipSettled, custody.EventTypeSold, custody.EventTypeReleased, custody.EventTypeCancelled:
		c.metrics.settlements.WithLabelValues(eventType).Inc()
	}
	c.next.Emit(evt)
}
