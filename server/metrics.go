package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the request pipeline.
type Metrics struct {
	MessagesReceived prometheus.Counter
	MessagesDropped  *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	Connected        prometheus.Gauge
	Subscribes       *prometheus.CounterVec
	PublishFailures  prometheus.Counter
}

// NewMetrics creates unregistered metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttcall",
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages read from the broker stream",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttcall",
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Inbound messages discarded without a reply",
		}, []string{"reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttcall",
			Subsystem: "requests",
			Name:      "handled_total",
			Help:      "Requests answered, by service and outcome",
		}, []string{"service", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mqttcall",
			Subsystem: "requests",
			Name:      "duration_seconds",
			Help:      "Time from dispatch to reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttcall",
			Subsystem: "requests",
			Name:      "in_flight",
			Help:      "Requests currently being handled",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttcall",
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while subscribed to the request topic",
		}),
		Subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttcall",
			Subsystem: "broker",
			Name:      "subscribes_total",
			Help:      "Request topic subscriptions attempted, by outcome",
		}, []string{"status"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttcall",
			Subsystem: "broker",
			Name:      "publish_failures_total",
			Help:      "Replies that could not be published",
		}),
	}
}

// Register adds all metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.MessagesReceived, m.MessagesDropped, m.Requests, m.RequestDuration,
		m.InFlight, m.Connected, m.Subscribes, m.PublishFailures,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

const (
	dropRetained = "retained"
	dropDecode   = "decode"
	dropTopic    = "topic"
	dropNoClient = "no_client"
)
