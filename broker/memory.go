package broker

import (
	"context"
	"strings"
	"sync"

	"mqtt-call/protocol"
)

// Hub is an in-process broker. Clients created from it route publications to
// each other by MQTT topic filter, and it keeps retained messages per topic.
type Hub struct {
	mu       sync.Mutex
	clients  map[*Memory]struct{}
	retained map[string][]byte
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*Memory]struct{}),
		retained: make(map[string][]byte),
	}
}

// Memory is a Broker attached to a Hub.
type Memory struct {
	hub      *Hub
	id       string
	messages chan Message
	up, down *Signal

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[string]protocol.QoS
	done      chan struct{}
}

// Client creates a broker client with an inbound queue of the given depth.
func (h *Hub) Client(id string, queueLen int) *Memory {
	if queueLen < 1 {
		queueLen = 1
	}
	return &Memory{
		hub:      h,
		id:       id,
		messages: make(chan Message, queueLen),
		up:       NewSignal(),
		down:     NewSignal(),
		subs:     make(map[string]protocol.QoS),
		done:     make(chan struct{}),
	}
}

// Retain stores a retained message and delivers it to current subscribers
// flagged as retained, as a broker does for a newly subscribing client.
func (h *Hub) Retain(topic string, payload []byte) {
	h.mu.Lock()
	h.retained[topic] = payload
	h.mu.Unlock()
	h.route(context.Background(), Message{Topic: topic, Payload: payload, Retained: true})
}

// Inject publishes a live message as if sent by another client.
func (h *Hub) Inject(ctx context.Context, topic string, payload []byte) error {
	return h.route(ctx, Message{Topic: topic, Payload: payload})
}

// Drop severs a client's connection: its subscriptions are lost and Down fires.
func (h *Hub) Drop(m *Memory) {
	m.mu.Lock()
	wasUp := m.connected
	m.connected = false
	m.subs = make(map[string]protocol.QoS)
	m.mu.Unlock()
	if wasUp {
		m.down.Raise()
	}
}

// Restore reconnects a dropped client and fires Up.
func (h *Hub) Restore(m *Memory) {
	m.mu.Lock()
	if m.closed || m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = true
	m.mu.Unlock()
	m.up.Raise()
}

func (h *Hub) route(ctx context.Context, msg Message) error {
	h.mu.Lock()
	var targets []*Memory
	for c := range h.clients {
		if c.subscribed(msg.Topic) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Connect(ctx context.Context) error {
	m.hub.mu.Lock()
	m.hub.clients[m] = struct{}{}
	m.hub.mu.Unlock()

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.up.Raise()
	return nil
}

func (m *Memory) Disconnect() {
	m.hub.mu.Lock()
	delete(m.hub.clients, m)
	m.hub.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.connected = false
	close(m.done)
}

func (m *Memory) Messages() <-chan Message {
	return m.messages
}

// Done is closed by Disconnect.
func (m *Memory) Done() <-chan struct{} {
	return m.done
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte, qos protocol.QoS) error {
	if !m.isConnected() {
		return ErrNotConnected
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return m.hub.route(ctx, Message{Topic: topic, Payload: buf})
}

func (m *Memory) Subscribe(ctx context.Context, topic string, qos protocol.QoS) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	m.subs[topic] = qos
	m.mu.Unlock()

	m.hub.mu.Lock()
	var replay []Message
	for t, payload := range m.hub.retained {
		if Match(topic, t) {
			replay = append(replay, Message{Topic: t, Payload: payload, Retained: true})
		}
	}
	m.hub.mu.Unlock()

	for _, msg := range replay {
		if err := m.deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Up() <-chan struct{}   { return m.up.C() }
func (m *Memory) Down() <-chan struct{} { return m.down.C() }

// Subscriptions returns the current topic filters. Test helper.
func (m *Memory) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for t := range m.subs {
		out = append(out, t)
	}
	return out
}

func (m *Memory) isConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return false
	}
	for filter := range m.subs {
		if Match(filter, topic) {
			return true
		}
	}
	return false
}

func (m *Memory) deliver(ctx context.Context, msg Message) error {
	select {
	case m.messages <- msg:
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Match reports whether topic matches an MQTT topic filter with + and # wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
