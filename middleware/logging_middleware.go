package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mqtt-call/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			logger.Debug("call request",
				zap.String("service", req.ServiceName()),
				zap.String("client", req.ClientID()),
				zap.Any("params", req.Params))
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("service", req.ServiceName()),
				zap.String("client", req.ClientID()),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Info("call failed", append(fields, zap.String("error", resp.Error.Message))...)
			} else {
				logger.Debug("call result", append(fields, zap.ByteString("result", resp.Result))...)
			}
			return resp
		}
	}
}
