package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ordercore"

// Metrics は注文・決済まわりのカウンタとヒストグラム。
// nilのままでも呼び出せる（テストでは省略できる）。
type Metrics struct {
	ordersCreated   *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	shipmentSync    *prometheus.CounterVec
	eventHandler    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by payment method.",
		}, []string{"payment_method"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Gateway webhook deliveries, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Outbound gateway and carrier call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		shipmentSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shipment_sync_total",
			Help:      "Shipment poller results per order.",
		}, []string{"outcome"}),
		eventHandler: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_total",
			Help:      "Event handler executions, by topic and outcome.",
		}, []string{"topic", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.ordersCreated, m.webhooks, m.gatewayDuration, m.shipmentSync, m.eventHandler)
	}
	return m
}

func (m *Metrics) OrderCreated(method string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(method).Inc()
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveGateway(provider, operation string, started time.Time) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ShipmentSync(outcome string) {
	if m == nil {
		return
	}
	m.shipmentSync.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventHandled(topic, outcome string) {
	if m == nil {
		return
	}
	m.eventHandler.WithLabelValues(topic, outcome).Inc()
}
