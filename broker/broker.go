// Package broker defines the message-broker client the server is built on and
// its implementations: Paho for a real MQTT broker and Memory for in-process use.
//
// A Broker exposes an ordered stream of inbound messages, publish and subscribe
// operations, and two edge-triggered lifecycle signals. Reconnection and backoff
// belong to the implementation; consumers only react to Up and Down edges.
package broker

import (
	"context"
	"errors"

	"mqtt-call/protocol"
)

var ErrNotConnected = errors.New("broker: not connected")

// Message is one inbound publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool // Replayed last-known value, not live traffic
}

// Broker is the client side of a topic-addressed publish/subscribe broker.
// Publish and Subscribe must be safe for concurrent use.
type Broker interface {
	// Connect starts the session. Up fires once the connection is established.
	Connect(ctx context.Context) error
	// Disconnect ends the session. Pending deliveries are abandoned.
	Disconnect()
	// Messages returns the inbound stream in broker delivery order. Consumers
	// stop when their context ends or the channel is closed.
	Messages() <-chan Message
	Publish(ctx context.Context, topic string, payload []byte, qos protocol.QoS) error
	Subscribe(ctx context.Context, topic string, qos protocol.QoS) error
	// Up and Down fire on connection edges. Receiving from them clears the edge.
	Up() <-chan struct{}
	Down() <-chan struct{}
}
