// Package middleware wraps the request dispatcher in an onion of cross-cutting concerns.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// Every middleware must return a non-nil response: the server publishes exactly
// one reply per handled request.
package middleware

import (
	"context"

	"mqtt-call/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
