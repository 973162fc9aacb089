// Package client calls services on remote call servers.
//
// A Caller owns one response topic, call/response/{id}, and multiplexes any number
// of outstanding calls over it. Each call carries a fresh sequence number as its
// correlation token; a receive loop routes every reply to the waiting call.
//
//	goroutine-1 ──Call(seq=1)──┐
//	goroutine-2 ──Call(seq=2)──┼──→ call/request/{server}
//	goroutine-3 ──Call(seq=3)──┘
//
//	recvLoop: call/response/{id} ← reply(request=2) → pending[2] → goroutine-2 wakes up
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"mqtt-call/broker"
	"mqtt-call/codec"
	"mqtt-call/message"
	"mqtt-call/protocol"
	"mqtt-call/registry"
)

// RemoteError is an error reply from the server.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Caller issues calls and matches replies by correlation token.
type Caller struct {
	broker           broker.Broker
	id               string
	topic            string
	seq              atomic.Uint64
	pending          sync.Map // map[uint64]chan *message.Response
	requestQoS       protocol.QoS
	subscribeTimeout time.Duration
	discovery        registry.Registry
	logger           *zap.Logger

	subscribed atomic.Bool
}

// Option configures a Caller.
type Option func(*Caller)

// WithID sets the caller id. Defaults to a random UUID.
func WithID(id string) Option {
	return func(c *Caller) { c.id = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDiscovery lets CallAny pick a server from the registry.
func WithDiscovery(reg registry.Registry) Option {
	return func(c *Caller) { c.discovery = reg }
}

// NewCaller creates a caller on b. Start must be called before Call.
func NewCaller(b broker.Broker, opts ...Option) (*Caller, error) {
	c := &Caller{
		broker:           b,
		id:               uuid.NewString(),
		requestQoS:       protocol.AtLeastOnce,
		subscribeTimeout: 10 * time.Second,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := protocol.ValidateName("client id", c.id); err != nil {
		return nil, errors.Trace(err)
	}
	c.topic = protocol.ResponseTopic(c.id)
	return c, nil
}

// ID returns the caller id replies are addressed to.
func (c *Caller) ID() string {
	return c.id
}

// Start connects, subscribes to the response topic and starts the receive loop.
// It returns once the first subscription is in place. Like the server, the caller
// resubscribes on every later Up edge.
func (c *Caller) Start(ctx context.Context) error {
	if err := c.broker.Connect(ctx); err != nil {
		return errors.Annotate(err, "connect broker")
	}
	select {
	case <-c.broker.Up():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.subscribe(ctx); err != nil {
		return err
	}
	go c.lifecycleLoop(ctx)
	go c.recvLoop(ctx)
	return nil
}

func (c *Caller) subscribe(ctx context.Context) error {
	subCtx, cancel := context.WithTimeout(ctx, c.subscribeTimeout)
	defer cancel()
	if err := c.broker.Subscribe(subCtx, c.topic, protocol.AtLeastOnce); err != nil {
		c.subscribed.Store(false)
		return errors.Annotatef(err, "subscribe %s", c.topic)
	}
	c.subscribed.Store(true)
	return nil
}

func (c *Caller) lifecycleLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.broker.Down():
			c.subscribed.Store(false)
		case <-c.broker.Up():
			if err := c.subscribe(ctx); err != nil {
				c.logger.Warn("resubscribe failed", zap.Error(err))
			}
		}
	}
}

// recvLoop routes replies to pending calls. Replies nobody waits for (late,
// duplicated by at-least-once delivery, or foreign) are dropped.
func (c *Caller) recvLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeAllPending(ctx.Err())
			return
		case msg, ok := <-c.broker.Messages():
			if !ok {
				c.subscribed.Store(false)
				c.closeAllPending(errors.New("message stream closed"))
				return
			}
			if msg.Topic != c.topic || msg.Retained {
				continue
			}
			resp, err := codec.DecodeResponse(msg.Payload)
			if err != nil {
				c.logger.Debug("discarding undecodable reply", zap.Error(err))
				continue
			}
			var seq uint64
			if err := json.Unmarshal(resp.Request, &seq); err != nil {
				c.logger.Debug("discarding reply with foreign token", zap.ByteString("request", resp.Request))
				continue
			}
			if ch, ok := c.pending.LoadAndDelete(seq); ok {
				ch.(chan *message.Response) <- resp
			}
		}
	}
}

// closeAllPending fails every waiting call so none blocks forever.
func (c *Caller) closeAllPending(err error) {
	c.pending.Range(func(key, value any) bool {
		if ch, ok := c.pending.LoadAndDelete(key); ok {
			ch.(chan *message.Response) <- message.Error(err.Error())
		}
		return true
	})
}

// Call invokes service on the named server with params (encoded as a JSON object,
// nil for none) and decodes the result into reply (may be nil).
func (c *Caller) Call(ctx context.Context, server, service string, params any, reply any) error {
	if !c.subscribed.Load() {
		return errors.New("caller not subscribed to its response topic")
	}
	if err := protocol.ValidateName("server name", server); err != nil {
		return errors.Trace(err)
	}
	named, err := encodeParams(params)
	if err != nil {
		return errors.Annotatef(err, "encode params for %s", service)
	}

	seq := c.seq.Add(1)
	token, _ := json.Marshal(seq)
	req := message.Request{
		Service: &service,
		Params:  named,
		Client:  &message.ClientInfo{ID: c.id, Request: token},
	}
	payload, err := codec.EncodeRequest(&req)
	if err != nil {
		return errors.Trace(err)
	}

	// Register before publishing so a fast reply cannot race the store.
	respChan := make(chan *message.Response, 1)
	c.pending.Store(seq, respChan)
	defer c.pending.Delete(seq)

	if err := c.broker.Publish(ctx, protocol.RequestTopic(server), payload, c.requestQoS); err != nil {
		return errors.Annotatef(err, "publish %s", service)
	}

	select {
	case resp := <-respChan:
		if resp.Failed() {
			return &RemoteError{Service: service, Message: resp.Error.Message}
		}
		if reply == nil {
			return nil
		}
		return errors.Annotatef(json.Unmarshal(resp.Result, reply), "decode result of %s", service)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallAny calls service on any announced instance exposing it under server name.
// The request topic is shared by all instances, so discovery only checks that a
// live instance exports the service before publishing.
func (c *Caller) CallAny(ctx context.Context, server, service string, params any, reply any) error {
	if c.discovery == nil {
		return errors.New("caller has no discovery registry")
	}
	instances, err := c.discovery.Discover(ctx, server)
	if err != nil {
		return errors.Trace(err)
	}
	for _, inst := range instances {
		for _, name := range inst.Services {
			if name == service {
				return c.Call(ctx, server, service, params, reply)
			}
		}
	}
	return errors.NotFoundf("service %q on server %q", service, server)
}

func encodeParams(params any) (map[string]json.RawMessage, error) {
	named := map[string]json.RawMessage{}
	if params == nil {
		return named, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, errors.New("params must encode as a JSON object")
	}
	if named == nil {
		named = map[string]json.RawMessage{}
	}
	return named, nil
}
