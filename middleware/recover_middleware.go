package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mqtt-call/message"
)

// RecoverMiddleware turns a panic below it, or a nil response, into an error reply.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("dispatch panicked", zap.String("service", req.ServiceName()), zap.Any("panic", r), zap.Stack("stack"))
					resp = message.Error(fmt.Sprint(r))
				}
			}()
			resp = next(ctx, req)
			if resp == nil {
				resp = message.Error("internal error: no response")
			}
			return resp
		}
	}
}
