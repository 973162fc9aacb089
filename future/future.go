// Package future provides the uniform asynchronous result returned by every service invocation.
//
// Synchronous services return an already completed Future (Resolved/Rejected),
// asynchronous ones a pending Future (Go). The dispatcher always calls Await, so it
// never has to tell the two apart.
package future

import (
	"context"
	"errors"
	"fmt"
)

// ErrPanicked wraps a panic recovered from a service body.
var ErrPanicked = errors.New("service panicked")

// Future is a single-assignment result. It is safe for concurrent use.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Resolved returns a completed Future holding v.
func Resolved(v any) *Future {
	f := &Future{done: make(chan struct{}), value: v}
	close(f.done)
	return f
}

// Rejected returns a completed Future holding err.
func Rejected(err error) *Future {
	f := &Future{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Go runs fn on its own goroutine and returns a Future completed with its outcome.
// A panic in fn completes the Future with an error wrapping ErrPanicked.
func Go(fn func() (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.value, f.err = nil, Panicked(r)
			}
		}()
		f.value, f.err = fn()
	}()
	return f
}

// Panicked converts a recovered panic value into an error.
func Panicked(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanicked, err)
	}
	return fmt.Errorf("%w: %v", ErrPanicked, r)
}

// Done is closed once the Future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the Future completes or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
