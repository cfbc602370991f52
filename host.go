package xbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Host opens ConnectionContexts against one broker through a registered
// connector and owns the ambient logger, clock and observers they share.
type Host struct {
	connector    string
	connectorCfg map[string]any
	cfg          HostConfig
	logger       *xlog.Logger
	clock        xclock.Clock
	observers    *observers

	connsMu sync.Mutex
	conns   map[*ConnectionContext]struct{}

	metrics   hostMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

type hostMetrics struct {
	connects     atomic.Uint64
	connectFails atomic.Uint64
	disconnects  atomic.Uint64
}

// Metrics is a snapshot of host telemetry.
type Metrics struct {
	Connects        uint64
	ConnectFailures uint64
	Disconnects     uint64
	Active          int
	EventsDropped   uint64
}

// HealthStatus indicates host health for probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

func (h *Host) Config() HostConfig   { return h.cfg }
func (h *Host) Logger() *xlog.Logger { return h.logger }
func (h *Host) Clock() xclock.Clock  { return h.clock }

// Connect opens a new connection and wraps it in a ConnectionContext. ctx
// bounds the connection lifetime. The returned context is closed by the
// caller or by Host.Close.
func (h *Host) Connect(ctx context.Context) (*ConnectionContext, error) {
	if h.closed.Load() {
		return nil, ErrHostClosed
	}

	cfg := make(map[string]any, len(h.connectorCfg)+8)
	for k, v := range h.cfg.toMap() {
		cfg[k] = v
	}
	for k, v := range h.connectorCfg {
		cfg[k] = v
	}

	conn, topology, err := NewConnection(h.connector, cfg)
	if err != nil {
		h.metrics.connectFails.Add(1)
		h.observers.notify(Event{Type: Error, Description: h.cfg.description(), HostAddress: h.cfg.HostAddress, Err: err})
		return nil, fmt.Errorf("xbroker: connect %s: %w", h.cfg.description(), err)
	}

	var cc *ConnectionContext
	cc = NewConnectionContext(ctx, conn, h.cfg, topology,
		withObservers(h.observers),
		WithConnectionLogger(h.logger),
		WithConnectionClock(h.clock),
		withReleaseHook(func() { h.release(cc) }),
	)

	h.connsMu.Lock()
	// a shutdown may already have released it
	if cc.State() != StateClosed {
		h.conns[cc] = struct{}{}
	}
	h.connsMu.Unlock()
	h.metrics.connects.Add(1)

	h.observers.notify(Event{Type: Connected, Description: cc.Description(), HostAddress: cc.HostAddress()})
	return cc, nil
}

func (h *Host) release(cc *ConnectionContext) {
	h.connsMu.Lock()
	delete(h.conns, cc)
	h.connsMu.Unlock()
	h.metrics.disconnects.Add(1)
}

// NewMoveTransport returns a MoveTransport sharing the host's logger and clock.
func (h *Host) NewMoveTransport(destination string, topology Filter) *MoveTransport {
	return NewMoveTransport(destination, topology, WithMoveLogger(h.logger), WithMoveClock(h.clock))
}

// AddObserver registers an observer (thread-safe).
func (h *Host) AddObserver(obs Observer) { h.observers.add(obs) }

// RemoveObserver removes an observer.
func (h *Host) RemoveObserver(obs Observer) { h.observers.remove(obs) }

// GetMetrics returns current host metrics.
func (h *Host) GetMetrics() Metrics {
	h.connsMu.Lock()
	active := len(h.conns)
	h.connsMu.Unlock()

	m := Metrics{
		Connects:        h.metrics.connects.Load(),
		ConnectFailures: h.metrics.connectFails.Load(),
		Disconnects:     h.metrics.disconnects.Load(),
		Active:          active,
	}
	if h.observers.pool != nil {
		m.EventsDropped = h.observers.pool.Stats().Dropped
	}
	return m
}

// Health reports "unhealthy" once closed and "degraded" when connects fail
// more often than they succeed.
func (h *Host) Health(_ context.Context) HealthStatus {
	now := h.clock.Now()
	m := h.GetMetrics()
	if h.closed.Load() {
		return HealthStatus{Status: "unhealthy", Metrics: m, Timestamp: now, Message: "host is closed"}
	}
	status := "healthy"
	if m.ConnectFailures > m.Connects {
		status = "degraded"
	}
	return HealthStatus{Status: status, Metrics: m, Timestamp: now}
}

// Close disposes every open connection, then drains the observer pool.
func (h *Host) Close(ctx context.Context) error {
	var errs []error
	h.closeOnce.Do(func() {
		h.closed.Store(true)

		h.connsMu.Lock()
		conns := make([]*ConnectionContext, 0, len(h.conns))
		for cc := range h.conns {
			conns = append(conns, cc)
		}
		h.connsMu.Unlock()

		for _, cc := range conns {
			if err := cc.Close(ctx); err != nil {
				h.logger.Error().Err(err).Msg("xbroker: connection close failed")
				errs = append(errs, err)
			}
		}

		if h.observers.pool != nil {
			if err := h.observers.pool.Close(5 * time.Second); err != nil {
				h.logger.Warn().Err(err).Msg("xbroker: observer pool shutdown timeout")
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
