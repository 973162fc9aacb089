// Package service builds the immutable name → invoker table the server dispatches on.
//
// Services are opted in explicitly: either registered by name on a Builder, or
// scanned from a handler whose methods carry the Export prefix. Nothing else on a
// handler is ever reachable remotely.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"mqtt-call/future"
)

// ErrNotFound is returned (wrapped) when a service name is not registered.
var ErrNotFound = errors.New("service not found")

// Params are the call's named arguments, still encoded.
type Params map[string]json.RawMessage

// Invoker runs one call. It never blocks on the service body: synchronous
// services return a completed Future.
type Invoker func(ctx context.Context, params Params) *future.Future

// Func adapts a plain synchronous function into an Invoker.
// A panic in fn becomes a rejected Future.
func Func(fn func(ctx context.Context, params Params) (any, error)) Invoker {
	return func(ctx context.Context, params Params) (f *future.Future) {
		defer func() {
			if r := recover(); r != nil {
				f = future.Rejected(future.Panicked(r))
			}
		}()
		v, err := fn(ctx, params)
		if err != nil {
			return future.Rejected(err)
		}
		return future.Resolved(v)
	}
}

// Registry maps exported service names to invokers.
// It is never written after Build, so concurrent lookups need no locking.
type Registry struct {
	services map[string]Invoker
	names    []string
}

// Resolve looks up a service by its exported name.
func (r *Registry) Resolve(name string) (Invoker, bool) {
	inv, ok := r.services[name]
	return inv, ok
}

// Lookup is Resolve with the caller-facing error for unknown names.
func (r *Registry) Lookup(name string) (Invoker, error) {
	inv, ok := r.services[name]
	if !ok {
		return nil, &UnknownError{Name: name}
	}
	return inv, nil
}

// List returns the exported names in sorted order.
func (r *Registry) List() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of exported services.
func (r *Registry) Len() int {
	return len(r.names)
}

// Dump logs every exported service. Callers scope logger to the server.
func (r *Registry) Dump(logger *zap.Logger) {
	logger.Info("server exports", zap.Int("count", len(r.names)))
	for _, name := range r.names {
		logger.Info("export", zap.String("service", name))
	}
}

// UnknownError reports a call to a name that is not in the registry.
type UnknownError struct {
	Name string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("Unknown service '%s'", e.Name)
}

func (e *UnknownError) Unwrap() error {
	return ErrNotFound
}

// Builder collects services before the registry is frozen.
type Builder struct {
	services map[string]Invoker
	err      error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{services: make(map[string]Invoker)}
}

// Register adds an invoker under name. The first error sticks and is returned by Build.
func (b *Builder) Register(name string, inv Invoker) *Builder {
	if b.err != nil {
		return b
	}
	switch {
	case name == "":
		b.err = errors.New("service: empty service name")
	case inv == nil:
		b.err = fmt.Errorf("service: nil invoker for %q", name)
	default:
		if _, dup := b.services[name]; dup {
			b.err = fmt.Errorf("service: %q registered twice", name)
			return b
		}
		b.services[name] = inv
	}
	return b
}

// Func registers a synchronous function under name.
func (b *Builder) Func(name string, fn func(ctx context.Context, params Params) (any, error)) *Builder {
	if fn == nil {
		return b.Register(name, nil)
	}
	return b.Register(name, Func(fn))
}

// Handler scans rcvr for Export-prefixed methods and registers them.
func (b *Builder) Handler(rcvr any) *Builder {
	if b.err != nil {
		return b
	}
	methods, err := scan(rcvr)
	if err != nil {
		b.err = err
		return b
	}
	for _, m := range methods {
		b.Register(m.name, m.invoker())
	}
	return b
}

// Build freezes the collected services into a Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	r := &Registry{
		services: make(map[string]Invoker, len(b.services)),
		names:    make([]string, 0, len(b.services)),
	}
	for name, inv := range b.services {
		r.services[name] = inv
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// FromHandler builds a registry from a handler's Export-prefixed methods.
func FromHandler(rcvr any) (*Registry, error) {
	return NewBuilder().Handler(rcvr).Build()
}
