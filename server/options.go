package server

import (
	"time"

	"go.uber.org/zap"

	"mqtt-call/indicator"
	"mqtt-call/protocol"
	"mqtt-call/registry"
)

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIndicator sets the status output. Defaults to indicator.Nop.
func WithIndicator(ind indicator.Indicator) Option {
	return func(s *Server) {
		if ind != nil {
			s.indicator = ind
		}
	}
}

// WithMetrics replaces the server's metrics, e.g. with ones registered on a registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDiscovery announces the server in reg while it runs.
// brokerURL and clientID are published as part of the announcement.
func WithDiscovery(reg registry.Registry, ttl int64, brokerURL, clientID string) Option {
	return func(s *Server) {
		s.discovery = reg
		s.discoveryTTL = ttl
		s.instance.Broker = brokerURL
		s.instance.ID = clientID
	}
}

// WithResponseQoS sets the QoS replies are published with. Defaults to at-most-once.
func WithResponseQoS(qos protocol.QoS) Option {
	return func(s *Server) {
		s.responseQoS = qos
	}
}

// WithPublishTimeout bounds each reply publish. Defaults to 10s.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithSubscribeTimeout bounds each request-topic subscribe. Defaults to 10s.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.subscribeTimeout = d
		}
	}
}
