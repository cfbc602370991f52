package xbroker

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// HostBuilder constructs Host instances (Builder pattern).
type HostBuilder struct {
	connectorName string
	connectorCfg  map[string]any
	hostCfg       HostConfig

	observers   []Observer
	poolWorkers int
	poolBuffer  int
	logger      *xlog.Logger
	clock       xclock.Clock
}

// NewHostBuilder returns a new builder with sensible defaults.
func NewHostBuilder() *HostBuilder {
	return &HostBuilder{hostCfg: DefaultHostConfig()}
}

// WithConnector selects the registered connector and its backend config.
func (hb *HostBuilder) WithConnector(name string, cfg map[string]any) *HostBuilder {
	hb.connectorName = name
	hb.connectorCfg = cfg
	return hb
}

// ConnectorConfig returns the backend config set by WithConnector.
func (hb *HostBuilder) ConnectorConfig() map[string]any { return hb.connectorCfg }

func (hb *HostBuilder) WithHostConfig(cfg HostConfig) *HostBuilder {
	hb.hostCfg = cfg
	return hb
}

func (hb *HostBuilder) WithObserver(obs ...Observer) *HostBuilder {
	for _, o := range obs {
		if o != nil {
			hb.observers = append(hb.observers, o)
		}
	}
	return hb
}

// WithObserverPool dispatches lifecycle events asynchronously.
func (hb *HostBuilder) WithObserverPool(workers, bufferSize int) *HostBuilder {
	hb.poolWorkers = workers
	hb.poolBuffer = bufferSize
	return hb
}

func (hb *HostBuilder) WithLogger(l *xlog.Logger) *HostBuilder {
	hb.logger = l
	return hb
}

func (hb *HostBuilder) WithClock(c xclock.Clock) *HostBuilder {
	hb.clock = c
	return hb
}

func (hb *HostBuilder) Build() (*Host, error) {
	if hb.connectorName == "" {
		return nil, ErrNoConnectorConfigured
	}
	if err := hb.hostCfg.Validate(); err != nil {
		return nil, err
	}

	lg := hb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	clk := hb.clock
	if clk == nil {
		clk = xclock.Default()
	}

	h := &Host{
		connector:    hb.connectorName,
		connectorCfg: hb.connectorCfg,
		cfg:          hb.hostCfg,
		logger:       lg,
		clock:        clk,
		observers:    &observers{},
		conns:        make(map[*ConnectionContext]struct{}),
	}
	if hb.poolWorkers > 0 || hb.poolBuffer > 0 {
		h.observers.pool = NewObserverPool(context.Background(), hb.poolWorkers, hb.poolBuffer)
	}

	// Logging observer first unless one was supplied.
	hasLogging := false
	for _, o := range hb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging {
		h.observers.add(LoggingObserver{Logger: lg})
	}
	for _, o := range hb.observers {
		h.observers.add(o)
	}
	return h, nil
}
