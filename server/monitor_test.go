package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mqtt-call/broker"
)

func newMonitor(b broker.Broker, ind *recorder) *Monitor {
	return &Monitor{
		broker:           b,
		topic:            "call/request/kitchen",
		indicator:        ind,
		subscribeTimeout: time.Second,
		logger:           zap.NewNop(),
		metrics:          NewMetrics(),
	}
}

func TestMonitorEdgeSequence(t *testing.T) {
	hub := broker.NewHub()
	conn := hub.Client("server", 1)
	b := &countingBroker{Broker: conn}
	ind := &recorder{}
	m := newMonitor(b, ind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, conn.Connect(ctx))
	require.Eventually(t, m.Up, time.Second, 5*time.Millisecond)

	hub.Drop(conn)
	require.Eventually(t, func() bool { return !m.Up() }, time.Second, 5*time.Millisecond)

	hub.Restore(conn)
	require.Eventually(t, m.Up, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), b.subscribes.Load())
	assert.Equal(t, []bool{true, false, true}, ind.History())
}

func TestMonitorHandlesPendingDownFirst(t *testing.T) {
	hub := broker.NewHub()
	conn := hub.Client("server", 1)
	require.NoError(t, conn.Connect(context.Background()))
	<-conn.Up()
	// Both edges pending before the monitor starts: a drop and a reconnect.
	hub.Drop(conn)
	hub.Restore(conn)

	b := &countingBroker{Broker: conn}
	ind := &recorder{}
	m := newMonitor(b, ind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, m.Up, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false, true}, ind.History())
	assert.Equal(t, []string{"call/request/kitchen"}, conn.Subscriptions())
}
