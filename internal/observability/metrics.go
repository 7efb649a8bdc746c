// Package observability serves Prometheus metrics, a health probe and
// optionally pprof over HTTP.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"readingsbot/internal/model"
)

const namespace = "readingsbot"

// Metrics holds the bot's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	RunnerTicks  prometheus.Counter
	DueDirective prometheus.Gauge
	Dispatches   *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
	Deliveries   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RunnerTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_ticks_total",
			Help:      "Schedule runner ticks.",
		}),
		DueDirective: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_directives",
			Help:      "Directives found due on the last tick.",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Directive dispatches by payload kind and result.",
		}, []string{"kind", "result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_total",
			Help:      "Content cache refreshes by cache and result.",
		}, []string{"cache", "result"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Posts handed to a chat platform by result.",
		}, []string{"result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveTick(due int) {
	m.RunnerTicks.Inc()
	m.DueDirective.Set(float64(due))
}

func (m *Metrics) ObserveDispatch(kind model.PayloadKind, err error) {
	m.Dispatches.WithLabelValues(string(kind), result(err)).Inc()
}

// ObserveRefresh matches the cache OnRefresh hook.
func (m *Metrics) ObserveRefresh(name string, err error) {
	m.Refreshes.WithLabelValues(name, result(err)).Inc()
}

// ObserveDelivery matches the notifier OnDelivery hook.
func (m *Metrics) ObserveDelivery(res string) {
	m.Deliveries.WithLabelValues(res).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.reg }
