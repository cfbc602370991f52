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

// ConnectionState is the lifecycle state of a ConnectionContext.
type ConnectionState int32

const (
	StateOpen ConnectionState = iota
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	disposeCode = ReplySuccess
	disposeText = "Connection Disposed"
)

// ConnectionOption configures a ConnectionContext.
type ConnectionOption func(*ConnectionContext)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(l *xlog.Logger) ConnectionOption {
	return func(c *ConnectionContext) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConnectionClock sets the clock used to time channel creation.
func WithConnectionClock(clk xclock.Clock) ConnectionOption {
	return func(c *ConnectionContext) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithConnectionObserver attaches observers for lifecycle events.
func WithConnectionObserver(obs ...Observer) ConnectionOption {
	return func(c *ConnectionContext) {
		for _, o := range obs {
			c.observers.add(o)
		}
	}
}

func withObservers(o *observers) ConnectionOption {
	return func(c *ConnectionContext) { c.observers = o }
}

func withReleaseHook(fn func()) ConnectionOption {
	return func(c *ConnectionContext) { c.onRelease = fn }
}

// ConnectionContext owns one broker connection. It serializes channel creation
// against the connection and converges explicit disposal and unsolicited
// broker shutdown onto one cleanup routine.
type ConnectionContext struct {
	conn     Connection
	cfg      HostConfig
	topology Filter

	ctx    context.Context
	cancel context.CancelFunc

	serial   *serializer
	mu       sync.Mutex
	state    ConnectionState
	inflight sync.WaitGroup

	shutdownSub  ShutdownSubscription
	// set by the first of onShutdown and Close; a notification already in
	// flight when Close detaches the listener finds it set and returns
	listenerDone atomic.Bool
	stopParent   func() bool
	cleanupOnce  sync.Once
	closeOnce    sync.Once
	reason       atomic.Pointer[ShutdownReason]

	logger    *xlog.Logger
	clock     xclock.Clock
	observers *observers
	onRelease func()
}

// NewConnectionContext takes ownership of conn. The shutdown listener is
// attached here and detached by Close. ctx bounds the lifetime of the
// connection: cancelling it cancels in-flight channel creation and moves the
// state to Closing. Close must still be called to release conn.
func NewConnectionContext(ctx context.Context, conn Connection, cfg HostConfig, topology Filter, opts ...ConnectionOption) *ConnectionContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultHostConfig().StopTimeout
	}
	if topology == nil {
		topology = NoopFilter
	}
	lctx, cancel := context.WithCancel(ctx)
	c := &ConnectionContext{
		conn:      conn,
		cfg:       cfg,
		topology:  topology,
		ctx:       lctx,
		cancel:    cancel,
		serial:    newSerializer(),
		observers: &observers{},
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.logger == nil {
		c.logger = xlog.Default()
	}
	if c.clock == nil {
		c.clock = xclock.Default()
	}
	c.logger = c.logger.With(xlog.Str("connection", cfg.description()))
	c.shutdownSub = conn.OnShutdown(c.onShutdown)
	c.stopParent = context.AfterFunc(ctx, c.beginClosing)
	return c
}

func (c *ConnectionContext) Description() string          { return c.cfg.description() }
func (c *ConnectionContext) HostAddress() string          { return c.cfg.HostAddress }
func (c *ConnectionContext) PublisherConfirmation() bool  { return c.cfg.PublisherConfirmation }
func (c *ConnectionContext) BatchSettings() BatchSettings { return c.cfg.BatchSettings }
func (c *ConnectionContext) StopTimeout() time.Duration   { return c.cfg.StopTimeout }

// Connection returns the native connection owned by the context.
func (c *ConnectionContext) Connection() Connection { return c.conn }

// Topology is the host topology filter move transports run before sending.
func (c *ConnectionContext) Topology() Filter { return c.topology }

// Context is done once the connection starts closing.
func (c *ConnectionContext) Context() context.Context { return c.ctx }

// State returns the current lifecycle state.
func (c *ConnectionContext) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseReason returns the code and text the connection was cleaned up with.
func (c *ConnectionContext) CloseReason() (ShutdownReason, bool) {
	r := c.reason.Load()
	if r == nil {
		return ShutdownReason{}, false
	}
	return *r, true
}

// CreateModel creates a raw channel. Calls are serialized to one at a time
// against the underlying connection; waiting stops when ctx or the connection
// lifetime ends.
func (c *ConnectionContext) CreateModel(ctx context.Context) (Channel, error) {
	linked, cancel := c.link(ctx)
	defer cancel()
	return c.createChannel(linked)
}

// CreateModelContext creates a channel wrapped in a ModelContext scoped to
// ctx combined with the connection lifetime.
func (c *ConnectionContext) CreateModelContext(ctx context.Context) (*ModelContext, error) {
	linked, cancel := c.link(ctx)
	ch, err := c.createChannel(linked)
	if err != nil {
		cancel()
		return nil, err
	}
	return newModelContext(c, ch, linked, cancel), nil
}

func (c *ConnectionContext) link(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	linked, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return linked, func() {
		stop()
		cancel()
	}
}

// enter admits a channel creation while the connection is open.
func (c *ConnectionContext) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	c.inflight.Add(1)
	return true
}

func (c *ConnectionContext) createChannel(ctx context.Context) (Channel, error) {
	if !c.enter() {
		return nil, ErrConnectionClosed
	}
	defer c.inflight.Done()

	start := c.clock.Now()
	var ch Channel
	err := c.serial.do(ctx, func() error {
		// the linked ctx learns about closing asynchronously
		if err := c.ctx.Err(); err != nil {
			return err
		}
		var err error
		ch, err = c.conn.CreateChannel()
		return err
	})
	if err != nil {
		if c.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("xbroker: create channel on %s: %w", c.Description(), err)
	}

	c.observers.notify(Event{
		Type:        ChannelCreated,
		Description: c.Description(),
		HostAddress: c.cfg.HostAddress,
		Duration:    c.clock.Since(start),
	})
	return ch, nil
}

// beginClosing moves Open to Closing and cancels the lifetime context so
// queued channel creations give up.
func (c *ConnectionContext) beginClosing() {
	c.mu.Lock()
	if c.state == StateOpen {
		c.state = StateClosing
	}
	c.mu.Unlock()
	c.cancel()
}

// Close disposes the connection: the shutdown listener is detached before
// cleanup so a shutdown raised by cleanup cannot re-enter it. Channel
// creations already admitted may finish, bounded by StopTimeout and ctx.
func (c *ConnectionContext) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	c.closeOnce.Do(func() {
		c.listenerDone.Store(true)
		c.shutdownSub.Unsubscribe()
		c.beginClosing()

		c.observers.notify(Event{Type: Disconnecting, Description: c.Description(), HostAddress: c.cfg.HostAddress})

		c.waitInflight(ctx)
		err = c.cleanup(disposeCode, disposeText)

		c.observers.notify(Event{Type: Disconnected, Description: c.Description(), HostAddress: c.cfg.HostAddress, Err: err})
	})
	return err
}

func (c *ConnectionContext) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn().Msg("xbroker: stop timeout waiting for channel creation")
	case <-ctx.Done():
	}
}

func (c *ConnectionContext) onShutdown(reason ShutdownReason) {
	if c.listenerDone.Swap(true) {
		return
	}
	c.observers.notify(Event{
		Type:        ConnectionShutdown,
		Description: c.Description(),
		HostAddress: c.cfg.HostAddress,
		Code:        reason.Code,
		Text:        reason.Text,
		Err:         reason.Err,
	})
	c.beginClosing()
	_ = c.cleanup(reason.Code, reason.Text)
}

// cleanup releases the underlying connection once. Only the first caller
// observes an error; later callers get nil so the original reason is kept.
func (c *ConnectionContext) cleanup(code int, text string) error {
	var err error
	c.cleanupOnce.Do(func() {
		c.stopParent()
		c.reason.Store(&ShutdownReason{Code: code, Text: text})
		if err = c.conn.Cleanup(code, text); err != nil {
			c.logger.Warn().Err(err).Msg("xbroker: connection cleanup failed")
		}
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		if c.onRelease != nil {
			c.onRelease()
		}
	})
	return err
}
