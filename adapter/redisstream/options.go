package redisstream

import (
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbroker"
)

// Option configures the xbroker.Host construction when calling Use.
type Option func(*xbroker.HostBuilder)

// WithHostConfig replaces the host configuration derived from Config.
func WithHostConfig(cfg xbroker.HostConfig) Option {
	return func(b *xbroker.HostBuilder) { b.WithHostConfig(cfg) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xbroker.HostBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xbroker.HostBuilder) { b.WithClock(c) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xbroker.Observer) Option {
	return func(b *xbroker.HostBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xbroker.HostBuilder) { b.WithObserverPool(workers, bufferSize) }
}
