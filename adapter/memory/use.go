package memory

import (
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbroker"
)

// Use builds a Host over the in-memory broker.
//
// Example:
//
//	host := memory.Use(memory.Config{
//	    BufferSize: 4096,
//	    Declare:    []string{"orders_error"},
//	},
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
func Use(cfg Config, opts ...Option) *xbroker.Host {
	hostCfg := xbroker.DefaultHostConfig()
	hostCfg.HostAddress = "memory://local"
	hb := xbroker.NewHostBuilder().
		WithConnector(TransportName, cfg.toMap()).
		WithHostConfig(hostCfg)

	for _, o := range opts {
		if o != nil {
			o(hb)
		}
	}

	host, err := hb.Build()
	if err != nil {
		panic(fmt.Errorf("memory.Use: %w", err))
	}
	return host
}

// Option configures the xbroker.Host when calling Use.
type Option func(*xbroker.HostBuilder)

// WithBroker connects to b instead of the process-wide DefaultBroker.
func WithBroker(b *Broker) Option {
	return func(hb *xbroker.HostBuilder) {
		cfg := map[string]any{}
		for k, v := range hb.ConnectorConfig() {
			cfg[k] = v
		}
		cfg["broker"] = b
		hb.WithConnector(TransportName, cfg)
	}
}

// WithHostConfig replaces the host configuration.
func WithHostConfig(cfg xbroker.HostConfig) Option {
	return func(hb *xbroker.HostBuilder) { hb.WithHostConfig(cfg) }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(hb *xbroker.HostBuilder) { hb.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(hb *xbroker.HostBuilder) { hb.WithClock(c) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xbroker.Observer) Option {
	return func(hb *xbroker.HostBuilder) { hb.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(hb *xbroker.HostBuilder) { hb.WithObserverPool(workers, bufferSize) }
}
