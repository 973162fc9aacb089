package server

import (
	"context"

	"go.uber.org/zap"

	"mqtt-call/broker"
	"mqtt-call/codec"
	"mqtt-call/message"
)

// Listener reads the broker stream one message at a time and hands each valid
// request to spawn without waiting for it.
//
// Retained messages and payloads that do not decode are dropped without a reply:
// they are either stale or carry no client id to answer to.
type Listener struct {
	messages <-chan broker.Message
	topic    string
	spawn    func(env message.Envelope)
	logger   *zap.Logger
	metrics  *Metrics
}

// Run consumes messages until ctx ends or the stream is closed.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-l.messages:
			if !ok {
				l.logger.Debug("message stream closed")
				return nil
			}
			l.accept(msg)
		}
	}
}

func (l *Listener) accept(msg broker.Message) {
	l.metrics.MessagesReceived.Inc()
	if msg.Retained {
		l.drop(dropRetained, msg)
		return
	}
	if msg.Topic != l.topic {
		l.drop(dropTopic, msg)
		return
	}
	env, err := codec.DecodeRequest(msg.Payload)
	if err != nil {
		l.logger.Debug("discarding invalid message", zap.String("topic", msg.Topic), zap.Error(err))
		l.drop(dropDecode, msg)
		return
	}
	l.spawn(env)
}

func (l *Listener) drop(reason string, msg broker.Message) {
	l.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	if reason != dropDecode {
		l.logger.Debug("discarding message", zap.String("reason", reason), zap.String("topic", msg.Topic))
	}
}
