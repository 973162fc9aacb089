package middleware

import (
	"context"
	"fmt"
	"time"

	"mqtt-call/message"
)

// TimeOutMiddleware bounds a call. The handler's context is cancelled at the
// deadline; a handler that ignores it keeps running but its reply is replaced
// by the timeout error.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				// Runs outside the caller's recover.
				defer func() {
					if r := recover(); r != nil {
						done <- message.Error(fmt.Sprint(r))
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Error("request timed out")
			}
		}
	}
}
