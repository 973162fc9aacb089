package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqtt-call/broker"
	"mqtt-call/registry"
	"mqtt-call/server"
	"mqtt-call/service"
)

type AddArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type Arith struct{}

func (a *Arith) ExportAdd(ctx context.Context, args *AddArgs) (int, error) {
	return args.A + args.B, nil
}

func (a *Arith) ExportDivide(ctx context.Context, args *AddArgs) (int, error) {
	if args.B == 0 {
		return 0, errors.New("division by zero")
	}
	return args.A / args.B, nil
}

func startServer(t *testing.T, hub *broker.Hub, name string) *server.Server {
	t.Helper()
	reg, err := service.FromHandler(&Arith{})
	require.NoError(t, err)
	svr, err := server.New(name, hub.Client(name, 1), reg)
	require.NoError(t, err)
	svr.Start(context.Background())
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	require.Eventually(t, svr.Serving, time.Second, 5*time.Millisecond)
	return svr
}

func startCaller(t *testing.T, hub *broker.Hub, opts ...Option) *Caller {
	t.Helper()
	conn := hub.Client("caller", 16)
	c, err := NewCaller(conn, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, c.Start(ctx))
	return c
}

func TestCallSerial(t *testing.T) {
	hub := broker.NewHub()
	startServer(t, hub, "arith")
	c := startCaller(t, hub)

	cases := []struct {
		a, b, expect int
	}{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
	}
	for _, tc := range cases {
		var sum int
		require.NoError(t, c.Call(context.Background(), "arith", "add", &AddArgs{A: tc.a, B: tc.b}, &sum))
		assert.Equal(t, tc.expect, sum)
	}
}

// Many outstanding calls share one response topic.
func TestCallConcurrent(t *testing.T) {
	hub := broker.NewHub()
	startServer(t, hub, "arith")
	c := startCaller(t, hub)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var sum int
			if err := c.Call(ctx, "arith", "add", map[string]int{"a": n, "b": n}, &sum); err != nil {
				t.Errorf("call %d failed: %v", n, err)
				return
			}
			if sum != n*2 {
				t.Errorf("expect %d, got %d", n*2, sum)
			}
		}(i)
	}
	wg.Wait()
}

func TestCallRemoteErrors(t *testing.T) {
	hub := broker.NewHub()
	startServer(t, hub, "arith")
	c := startCaller(t, hub, WithID("calc-client"))
	assert.Equal(t, "calc-client", c.ID())

	err := c.Call(context.Background(), "arith", "divide", &AddArgs{A: 1}, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "division by zero", remote.Message)

	err = c.Call(context.Background(), "arith", "sqrt", nil, nil)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Unknown service 'sqrt'", remote.Message)
}

func TestCallRejectsBadInput(t *testing.T) {
	hub := broker.NewHub()
	c := startCaller(t, hub)

	assert.Error(t, c.Call(context.Background(), "arith", "add", []int{1, 2}, nil))
	assert.Error(t, c.Call(context.Background(), "a/b", "add", nil, nil))

	_, err := NewCaller(hub.Client("x", 1), WithID("bad/id"))
	assert.Error(t, err)
}

func TestCallTimesOutWithoutServer(t *testing.T) {
	hub := broker.NewHub()
	c := startCaller(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Call(ctx, "nobody", "add", nil, nil), context.DeadlineExceeded)
}

type staticDiscovery struct {
	instances []registry.ServerInstance
}

func (s staticDiscovery) Register(context.Context, registry.ServerInstance, int64) error { return nil }
func (s staticDiscovery) Deregister(context.Context, registry.ServerInstance) error      { return nil }
func (s staticDiscovery) Discover(ctx context.Context, name string) ([]registry.ServerInstance, error) {
	var out []registry.ServerInstance
	for _, inst := range s.instances {
		if inst.Name == name {
			out = append(out, inst)
		}
	}
	return out, nil
}
func (s staticDiscovery) Watch(context.Context, string) <-chan []registry.ServerInstance { return nil }

func TestCallAny(t *testing.T) {
	hub := broker.NewHub()
	startServer(t, hub, "arith")
	disc := staticDiscovery{instances: []registry.ServerInstance{
		{Name: "arith", ID: "arith-1", Services: []string{"add", "divide"}},
	}}
	c := startCaller(t, hub, WithDiscovery(disc))

	var sum int
	require.NoError(t, c.CallAny(context.Background(), "arith", "add", &AddArgs{A: 2, B: 2}, &sum))
	assert.Equal(t, 4, sum)

	assert.Error(t, c.CallAny(context.Background(), "arith", "sqrt", nil, nil))
	assert.Error(t, c.CallAny(context.Background(), "geometry", "add", nil, nil))
}

// streamBroker lets a test close the inbound stream.
type streamBroker struct {
	broker.Broker
	stream chan broker.Message
}

func (s *streamBroker) Messages() <-chan broker.Message { return s.stream }

func TestCallFailsWhenStreamCloses(t *testing.T) {
	hub := broker.NewHub()
	b := &streamBroker{Broker: hub.Client("caller", 1), stream: make(chan broker.Message)}
	c, err := NewCaller(b)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	pending := make(chan error, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pending <- c.Call(callCtx, "nobody", "add", nil, nil)
	}()
	require.Eventually(t, func() bool {
		n := 0
		c.pending.Range(func(any, any) bool { n++; return true })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	close(b.stream)

	select {
	case err := <-pending:
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("pending call not failed after stream closed")
	}
	require.Eventually(t, func() bool { return !c.subscribed.Load() }, time.Second, 5*time.Millisecond)
	assert.Error(t, c.Call(context.Background(), "nobody", "add", nil, nil))
}
