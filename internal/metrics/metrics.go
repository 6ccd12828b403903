package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront_auth"

// Collector holds the service's Prometheus collectors on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	LoginsTotal         *prometheus.CounterVec
	RefreshesTotal      *prometheus.CounterVec
	BindingRejections   *prometheus.CounterVec
	RevalidationsTotal  *prometheus.CounterVec
	ActiveCircuits      prometheus.Gauge
	RevocationsTotal    prometheus.Counter
	RateLimitRejections prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		RefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Access token refreshes by result",
		}, []string{"result"}),
		BindingRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_binding_rejections_total",
			Help:      "Requests rejected by the session binding middleware, by reason",
		}, []string{"reason"}),
		RevalidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revalidations_total",
			Help:      "Session revalidations by resulting state",
		}, []string{"state"}),
		ActiveCircuits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_circuits",
			Help:      "Open session monitoring websocket connections",
		}),
		RevocationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Refresh token identifiers revoked",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_rate_limited_total",
			Help:      "Login requests rejected by the rate limiter",
		}),
	}
}

// RegisterWhitelistSize exposes the current whitelist size as a gauge sampled on scrape.
func (c *Collector) RegisterWhitelistSize(size func() int) {
	if c == nil || size == nil {
		return
	}
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "whitelist_entries",
		Help:      "Refresh token identifiers currently whitelisted",
	}, func() float64 { return float64(size()) })
}

func (c *Collector) Login(result string) {
	if c == nil {
		return
	}
	c.LoginsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) Refresh(result string) {
	if c == nil {
		return
	}
	c.RefreshesTotal.WithLabelValues(result).Inc()
}

func (c *Collector) BindingRejected(reason string) {
	if c == nil {
		return
	}
	c.BindingRejections.WithLabelValues(reason).Inc()
}

func (c *Collector) Revalidated(state string) {
	if c == nil {
		return
	}
	c.RevalidationsTotal.WithLabelValues(state).Inc()
}

func (c *Collector) CircuitOpened() {
	if c == nil {
		return
	}
	c.ActiveCircuits.Inc()
}

func (c *Collector) CircuitClosed() {
	if c == nil {
		return
	}
	c.ActiveCircuits.Dec()
}

func (c *Collector) Revoked() {
	if c == nil {
		return
	}
	c.RevocationsTotal.Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.RateLimitRejections.Inc()
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
