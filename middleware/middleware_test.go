package middleware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"mqtt-call/message"
)

func request(service string) *message.Request {
	return &message.Request{
		Service: &service,
		Params:  map[string]json.RawMessage{},
		Client:  &message.ClientInfo{ID: "abc", Request: json.RawMessage(`1`)},
	}
}

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Result(json.RawMessage(`"ok"`))
}

func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.Result(json.RawMessage(`"ok"`))
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("kaput")
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), request("ping"))
	require.NotNil(t, resp)
	assert.Equal(t, `"ok"`, string(resp.Result))
	assert.Equal(t, 1, logs.FilterMessage("call request").Len())
	assert.Equal(t, 1, logs.FilterMessage("call result").Len())
}

func TestLoggingFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := LoggingMiddleware(zap.New(core))(func(ctx context.Context, req *message.Request) *message.Response {
		return message.Error("boom")
	})

	handler(context.Background(), request("explode"))
	entries := logs.FilterMessage("call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), request("ping"))
	assert.False(t, resp.Failed())
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), request("ping"))
	require.True(t, resp.Failed())
	assert.Equal(t, "request timed out", resp.Error.Message)
}

func TestTimeoutRecoversPanic(t *testing.T) {
	handler := TimeOutMiddleware(time.Second)(panicHandler)

	resp := handler(context.Background(), request("ping"))
	require.True(t, resp.Failed())
	assert.Equal(t, "kaput", resp.Error.Message)
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), request("ping"))
		require.False(t, resp.Failed(), "request %d", i)
	}

	resp := handler(context.Background(), request("ping"))
	require.True(t, resp.Failed())
	assert.Equal(t, "rate limit exceeded", resp.Error.Message)
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware(zaptest.NewLogger(t))(panicHandler)

	resp := handler(context.Background(), request("ping"))
	require.True(t, resp.Failed())
	assert.Equal(t, "kaput", resp.Error.Message)

	handler = RecoverMiddleware(zap.NewNop())(func(ctx context.Context, req *message.Request) *message.Response {
		return nil
	})
	assert.True(t, handler(context.Background(), request("ping")).Failed())
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(mark("a"), mark("b"), LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))(echoHandler)

	resp := handler(context.Background(), request("ping"))
	require.NotNil(t, resp)
	assert.False(t, resp.Failed())
	assert.Equal(t, []string{"a", "b"}, order)
}
