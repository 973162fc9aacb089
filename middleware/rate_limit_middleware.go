package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mqtt-call/message"
)

// RateLimitMiddleware rejects calls beyond a token-bucket rate with an error reply.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Error("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
