package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mqtt-call/codec"
	"mqtt-call/message"
	"mqtt-call/protocol"
	"mqtt-call/service"
)

// spawn runs one request on its own goroutine. The listener never waits for it.
func (s *Server) spawn(ctx context.Context, env message.Envelope) {
	s.wg.Add(1)
	s.metrics.InFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer s.metrics.InFlight.Dec()
		s.handleRequest(ctx, env)
	}()
}

// handleRequest publishes exactly one reply to call/response/{client.id}.
// A request without a usable client id cannot be answered and is dropped.
func (s *Server) handleRequest(ctx context.Context, env message.Envelope) {
	clientID, ok := env.ClientID()
	if !ok {
		s.metrics.MessagesDropped.WithLabelValues(dropNoClient).Inc()
		s.logger.Warn("request without client id, no reply possible", zap.ByteString("service", env["service"]))
		return
	}

	start := time.Now()
	var resp *message.Response
	req, err := env.Request()
	if err != nil {
		resp = message.Error(err.Error())
	} else {
		resp = s.respond(ctx, req)
	}
	s.observe(req, resp, time.Since(start))

	r := responder{
		topic:   protocol.ResponseTopic(clientID),
		token:   env.Token(),
		qos:     s.responseQoS,
		timeout: s.publishTimeout,
		server:  s,
	}
	r.send(ctx, resp)
}

// respond runs the middleware chain. It never returns nil and never panics.
func (s *Server) respond(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", zap.Any("panic", r))
			resp = message.Error(fmt.Sprint(r))
		}
	}()
	resp = s.handler(ctx, req)
	if resp == nil {
		resp = message.Error("internal error: no response")
	}
	return resp
}

// dispatch validates, resolves, invokes and awaits one call.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	if req.Service == nil {
		return message.Error("Missing field 'service'")
	}
	if req.Params == nil {
		return message.Error("Missing field 'params'")
	}

	name := *req.Service
	invoke, err := s.services.Lookup(name)
	if err != nil {
		return message.Error(err.Error())
	}

	s.logger.Debug("calling", zap.String("service", name), zap.Int("params", len(req.Params)))
	value, err := invoke(ctx, service.Params(req.Params)).Await(ctx)
	if err != nil {
		return message.Error(err.Error())
	}

	result, err := json.Marshal(value)
	if err != nil {
		return message.Error(fmt.Sprintf("cannot encode result of '%s': %v", name, err))
	}
	return message.Result(result)
}

func (s *Server) observe(req *message.Request, resp *message.Response, d time.Duration) {
	// Label only registered names so arbitrary caller input cannot grow the series set.
	label := "unknown"
	if _, ok := s.services.Resolve(req.ServiceName()); ok {
		label = req.ServiceName()
	}
	status := "ok"
	if resp.Failed() {
		status = "error"
	}
	s.metrics.Requests.WithLabelValues(label, status).Inc()
	s.metrics.RequestDuration.WithLabelValues(label).Observe(d.Seconds())
}

// responder is bound to one caller's reply topic and correlation token.
type responder struct {
	topic   string
	token   json.RawMessage
	qos     protocol.QoS
	timeout time.Duration
	server  *Server
}

// send merges the echoed token into resp and publishes it.
func (r responder) send(ctx context.Context, resp *message.Response) {
	resp.Request = r.token
	payload, err := codec.EncodeResponse(resp)
	if err != nil {
		payload, err = codec.EncodeResponse(&message.Response{
			Error:   &message.ErrorBody{Message: fmt.Sprintf("cannot encode response: %v", err)},
			Request: r.token,
		})
		if err != nil {
			// Only reachable with a malformed token, which decoding rules out.
			r.server.logger.Error("cannot encode error response", zap.Error(err))
			r.server.metrics.PublishFailures.Inc()
			return
		}
	}

	r.server.logger.Debug("publishing", zap.String("topic", r.topic), zap.ByteString("payload", payload))

	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.server.broker.Publish(pubCtx, r.topic, payload, r.qos); err != nil {
		r.server.metrics.PublishFailures.Inc()
		r.server.logger.Warn("publish reply failed", zap.String("topic", r.topic), zap.Error(err))
	}
}
