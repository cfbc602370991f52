package xbroker

import (
	"context"
	"fmt"
	"time"
)

// Pipe is a continuation invoked with a client context.
type Pipe func(ctx context.Context, client ClientContext) error

// EmptyPipe does nothing. Topology filters are run with it when only their
// setup side effects matter.
func EmptyPipe(context.Context, ClientContext) error { return nil }

// Filter is a pipeline step applied to a client context before next runs.
type Filter interface {
	Send(ctx context.Context, client ClientContext, next Pipe) error
}

// FilterFunc is an Adapter that lets a plain function satisfy Filter.
type FilterFunc func(ctx context.Context, client ClientContext, next Pipe) error

func (f FilterFunc) Send(ctx context.Context, client ClientContext, next Pipe) error {
	return f(ctx, client, next)
}

// NoopFilter passes straight through to next.
var NoopFilter Filter = FilterFunc(func(ctx context.Context, client ClientContext, next Pipe) error {
	return next(ctx, client)
})

// ChainFilters composes filters in order; the first filter runs outermost.
func ChainFilters(filters ...Filter) Filter {
	fs := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			fs = append(fs, f)
		}
	}
	if len(fs) == 0 {
		return NoopFilter
	}
	if len(fs) == 1 {
		return fs[0]
	}
	return FilterFunc(func(ctx context.Context, client ClientContext, next Pipe) error {
		p := next
		// Apply in reverse so that the first filter wraps the rest.
		for i := len(fs) - 1; i >= 0; i-- {
			f, inner := fs[i], p
			p = func(ctx context.Context, client ClientContext) error {
				return f.Send(ctx, client, inner)
			}
		}
		return p(ctx, client)
	})
}

// RecoveryFilter converts a panic inside the wrapped steps into an error.
func RecoveryFilter(f Filter) Filter {
	return FilterFunc(func(ctx context.Context, client ClientContext, next Pipe) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("topology: panic recovered: %v", r)
			}
		}()
		return f.Send(ctx, client, next)
	})
}

// TimeoutFilter bounds the time f may take. When exceeded it returns
// context.DeadlineExceeded.
func TimeoutFilter(f Filter, d time.Duration) Filter {
	if d <= 0 {
		return f
	}
	return FilterFunc(func(ctx context.Context, client ClientContext, next Pipe) error {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("topology: panic recovered: %v", r)
				}
			}()
			errCh <- f.Send(tctx, client, next)
		}()

		select {
		case <-tctx.Done():
			return tctx.Err()
		case err := <-errCh:
			return err
		}
	})
}
