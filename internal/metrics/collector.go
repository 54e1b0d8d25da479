// Package metrics exposes the bridge's Prometheus metrics. Each Collector owns
// its registry so tests and multiple servers in one process do not collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tgwabridge"

// Collector aggregates relay, notification, queue and webhook metrics. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry      *prometheus.Registry
	startTime     time.Time
	relays        *prometheus.CounterVec
	relayLatency  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	queueMessages *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, plus the Go and
// process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Relays by direction, content kind and status",
		}, []string{"direction", "kind", "status"}),
		relayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "Relay latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"direction"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Error notifications by destination platform and result",
		}, []string{"platform", "result"}),
		queueMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Queue messages by direction and event (published, acked, panic, error)",
		}, []string{"direction", "event"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by route and status code",
		}, []string{"route", "code"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Correlation store failures by operation",
		}, []string{"op"}),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since start in seconds",
	}, func() float64 { return time.Since(c.startTime).Seconds() })

	c.registry.MustRegister(
		c.relays, c.relayLatency, c.notifications, c.queueMessages, c.webhooks, c.storeErrors, uptime,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

func (c *Collector) RelayFinished(direction, kind, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.relays.WithLabelValues(direction, kind, status).Inc()
	c.relayLatency.WithLabelValues(direction).Observe(elapsed.Seconds())
}

func (c *Collector) NotificationSent(platform string, err error) {
	if c == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	c.notifications.WithLabelValues(platform, result).Inc()
}

func (c *Collector) QueueEvent(direction, event string) {
	if c == nil {
		return
	}
	c.queueMessages.WithLabelValues(direction, event).Inc()
}

func (c *Collector) WebhookRequest(route string, code int) {
	if c == nil {
		return
	}
	c.webhooks.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (c *Collector) StoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

// Handler renders the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
