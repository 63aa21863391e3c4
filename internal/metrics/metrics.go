package metrics

import (
	"net/http"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the server. Every method is
// safe on a nil receiver.
type Collector struct {
	registry *prometheus.Registry

	Events          *prometheus.CounterVec
	Discarded       *prometheus.CounterVec
	Dropped         prometheus.Counter
	PersistFailures *prometheus.CounterVec
	PersistDrops    *prometheus.CounterVec
}

// Gauges are read lazily at scrape time.
type Gauges struct {
	Connections func() int
	Rooms       func() int
}

func NewCollector(namespace string, g Gauges) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Inbound events accepted, by type",
			},
			[]string{"type"},
		),
		Discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_discarded_total",
				Help:      "Inbound events dropped as stale or invalid",
			},
			[]string{"type", "reason"},
		),
		Dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_dropped_total",
				Help:      "Outbound frames a recipient could not take",
			},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Store calls that returned an error",
			},
			[]string{"op"},
		),
		PersistDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_dropped_total",
				Help:      "Store jobs dropped before running",
			},
			[]string{"op"},
		),
	}

	registry.MustRegister(c.Events, c.Discarded, c.Dropped, c.PersistFailures, c.PersistDrops)

	if g.Connections != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Live connections",
			},
			func() float64 { return float64(g.Connections()) },
		))
	}
	if g.Rooms != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rooms",
				Help:      "Live rooms",
			},
			func() float64 { return float64(g.Rooms()) },
		))
	}
	return c
}

// Handler exposes the collector at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) EventHandled(t domain.EventType) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(string(t)).Inc()
}

func (c *Collector) EventDiscarded(t domain.EventType, reason string) {
	if c == nil {
		return
	}
	c.Discarded.WithLabelValues(string(t), reason).Inc()
}

func (c *Collector) DeliveryDropped(n int) {
	if c == nil {
		return
	}
	c.Dropped.Add(float64(n))
}

func (c *Collector) PersistFailed(op string) {
	if c == nil {
		return
	}
	c.PersistFailures.WithLabelValues(op).Inc()
}

func (c *Collector) PersistDropped(op string) {
	if c == nil {
		return
	}
	c.PersistDrops.WithLabelValues(op).Inc()
}
