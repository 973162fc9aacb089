// Package server exposes a service registry as remotely callable endpoints over
// a publish/subscribe broker.
//
// Request processing pipeline:
//
//	Broker stream → Listener (single goroutine, drops retained/undecodable)
//	  → for each request: go handleRequest (concurrent, unordered completion)
//	    → Middleware chain → dispatch (resolve, invoke, await) → publish reply
//
// Alongside the listener, a Monitor re-subscribes to call/request/{name} on
// every broker Up edge and drives the status indicator.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mqtt-call/broker"
	"mqtt-call/indicator"
	"mqtt-call/message"
	"mqtt-call/middleware"
	"mqtt-call/protocol"
	"mqtt-call/registry"
	"mqtt-call/service"
)

// Server owns the broker client, the service registry and the status indicator.
type Server struct {
	name             string
	topic            string
	broker           broker.Broker
	services         *service.Registry
	indicator        indicator.Indicator
	logger           *zap.Logger
	metrics          *Metrics
	middlewares      []middleware.Middleware
	handler          middleware.HandlerFunc // Recover(middlewares...(dispatch)), built once in Run
	responseQoS      protocol.QoS
	publishTimeout   time.Duration
	subscribeTimeout time.Duration

	discovery    registry.Registry // nil when not announcing
	discoveryTTL int64
	instance     registry.ServerInstance

	monitor *Monitor
	wg      sync.WaitGroup // In-flight requests, awaited on Shutdown

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New creates a server answering on call/request/{name}.
func New(name string, b broker.Broker, services *service.Registry, opts ...Option) (*Server, error) {
	if err := protocol.ValidateName("server name", name); err != nil {
		return nil, errors.Trace(err)
	}
	if b == nil {
		return nil, errors.New("server: nil broker")
	}
	if services == nil {
		return nil, errors.New("server: nil service registry")
	}
	s := &Server{
		name:             name,
		topic:            protocol.RequestTopic(name),
		broker:           b,
		services:         services,
		indicator:        indicator.Nop{},
		logger:           zap.NewNop(),
		metrics:          NewMetrics(),
		responseQoS:      protocol.AtMostOnce,
		publishTimeout:   10 * time.Second,
		subscribeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("server", name))
	s.instance.Name = name
	s.instance.Services = services.List()
	if s.instance.ID == "" {
		s.instance.ID = name
	}
	s.monitor = &Monitor{
		broker:           b,
		topic:            s.topic,
		indicator:        s.indicator,
		subscribeTimeout: s.subscribeTimeout,
		logger:           s.logger.Named("monitor"),
		metrics:          s.metrics,
	}
	return s, nil
}

// Use adds a middleware around dispatch. Middlewares apply in the order added,
// inside the panic recovery that every server installs first.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Name returns the server name.
func (s *Server) Name() string {
	return s.name
}

// Topic returns the request topic the server subscribes to.
func (s *Server) Topic() string {
	return s.topic
}

// Serving reports whether the request topic is currently subscribed.
func (s *Server) Serving() bool {
	return s.monitor.Up()
}

// Run connects the broker and serves until ctx ends or a component fails.
func (s *Server) Run(ctx context.Context) error {
	chain := append([]middleware.Middleware{middleware.RecoverMiddleware(s.logger)}, s.middlewares...)
	s.handler = middleware.Chain(chain...)(s.dispatch)

	s.services.Dump(s.logger)

	if err := s.broker.Connect(ctx); err != nil {
		return errors.Annotate(err, "connect broker")
	}

	if s.discovery != nil {
		s.instance.StartedAt = time.Now()
		if err := s.discovery.Register(ctx, s.instance, s.discoveryTTL); err != nil {
			// Discovery is advisory; calls still work without it.
			s.logger.Warn("announce failed", zap.Error(err))
		}
	}

	// Handlers are never cancelled by server shutdown; Shutdown waits for them.
	handlerCtx := context.WithoutCancel(ctx)

	listener := &Listener{
		messages: s.broker.Messages(),
		topic:    s.topic,
		spawn: func(env message.Envelope) {
			s.spawn(handlerCtx, env)
		},
		logger:  s.logger.Named("listener"),
		metrics: s.metrics,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.monitor.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	return g.Wait()
}

// Start runs the server on its own goroutine and returns immediately.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := s.Run(ctx)
		if err != nil {
			s.logger.Error("server stopped", zap.Error(err))
		}
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()
}

// Done is closed when a started server's event loop has returned.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error the event loop stopped with, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Shutdown stops a started server:
//  1. Withdraw the discovery announcement so callers stop finding this instance
//  2. Stop the monitor and listener
//  3. Wait for in-flight requests, up to timeout
//  4. Disconnect from the broker and turn the indicator off
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.discovery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.discovery.Deregister(ctx, s.instance); err != nil {
			s.logger.Warn("withdraw announcement failed", zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.broker.Disconnect()
	s.indicator.Set(false)
	return err
}
