package server

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mqtt-call/broker"
	"mqtt-call/indicator"
	"mqtt-call/protocol"
)

// Monitor follows the broker's Up/Down edges. On Up it subscribes to the request
// topic and turns the indicator on; on Down it turns the indicator off.
//
// A failed subscribe is not retried here. The broker client reconnects on its
// own and the next Up edge subscribes again.
type Monitor struct {
	broker           broker.Broker
	topic            string
	indicator        indicator.Indicator
	subscribeTimeout time.Duration
	logger           *zap.Logger
	metrics          *Metrics

	up atomic.Bool
}

// Up reports whether the request topic is currently subscribed.
func (m *Monitor) Up() bool {
	return m.up.Load()
}

// Run handles edges until ctx ends. Receiving an edge clears it, so an edge
// raised again while the previous one is handled is seen on the next iteration.
//
// When both edges are pending their order is unknown. Down is handled first:
// a drop followed by a reconnect then ends Up, and a connect followed by a drop
// ends with a subscribe that fails and leaves the indicator off.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-m.broker.Down():
			m.onDown()
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.broker.Up():
			m.onUp(ctx)
		case <-m.broker.Down():
			m.onDown()
		}
	}
}

func (m *Monitor) onUp(ctx context.Context) {
	m.logger.Debug("subscribing", zap.String("topic", m.topic))

	subCtx, cancel := context.WithTimeout(ctx, m.subscribeTimeout)
	err := m.broker.Subscribe(subCtx, m.topic, protocol.RequestQoS)
	cancel()
	if err != nil {
		m.metrics.Subscribes.WithLabelValues("error").Inc()
		m.logger.Warn("subscribe failed, waiting for next reconnect", zap.String("topic", m.topic), zap.Error(err))
		return
	}
	m.metrics.Subscribes.WithLabelValues("ok").Inc()
	m.indicator.Set(true)
	m.metrics.Connected.Set(1)
	m.up.Store(true)
}

func (m *Monitor) onDown() {
	m.logger.Info("broker down", zap.String("topic", m.topic))
	m.indicator.Set(false)
	m.metrics.Connected.Set(0)
	m.up.Store(false)
}
