package server

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mqtt-call/broker"
	"mqtt-call/message"
)

func TestListenerFilters(t *testing.T) {
	stream := make(chan broker.Message, 8)
	spawned := make(chan message.Envelope, 8)
	l := &Listener{
		messages: stream,
		topic:    "call/request/kitchen",
		spawn:    func(env message.Envelope) { spawned <- env },
		logger:   zap.NewNop(),
		metrics:  NewMetrics(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- l.Run(ctx) }()

	valid := []byte(`{"service":"ping","params":{},"client":{"id":"a","request":1}}`)
	stream <- broker.Message{Topic: "call/request/kitchen", Payload: valid, Retained: true}
	stream <- broker.Message{Topic: "call/request/other", Payload: valid}
	stream <- broker.Message{Topic: "call/request/kitchen", Payload: []byte("nope")}
	stream <- broker.Message{Topic: "call/request/kitchen", Payload: valid}

	select {
	case env := <-spawned:
		req, err := env.Request()
		require.NoError(t, err)
		assert.Equal(t, "ping", req.ServiceName())
	case <-time.After(time.Second):
		t.Fatal("valid request not spawned")
	}
	assert.Empty(t, spawned)

	cancel()
	require.NoError(t, <-stopped)

	assert.Equal(t, float64(4), testutil.ToFloat64(l.metrics.MessagesReceived))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.MessagesDropped.WithLabelValues(dropRetained)))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.MessagesDropped.WithLabelValues(dropTopic)))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.metrics.MessagesDropped.WithLabelValues(dropDecode)))
}

func TestListenerStopsWhenStreamCloses(t *testing.T) {
	stream := make(chan broker.Message, 1)
	l := &Listener{
		messages: stream,
		topic:    "call/request/kitchen",
		spawn:    func(message.Envelope) { t.Error("nothing to spawn") },
		logger:   zap.NewNop(),
		metrics:  NewMetrics(),
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Run(context.Background()) }()
	close(stream)

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener kept running on a closed stream")
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(l.metrics.MessagesReceived))
	assert.Equal(t, float64(0), testutil.ToFloat64(l.metrics.MessagesDropped.WithLabelValues(dropTopic)))
}
