package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "memory"

var (
	ErrQueueNotFound    = errors.New("memory: queue not found")
	ErrConnectionClosed = errors.New("memory: connection is closed")
	ErrChannelClosed    = errors.New("memory: channel is closed")
)

func init() {
	if err := xbroker.RegisterConnector(TransportName, func(cfg map[string]any) (xbroker.Connection, xbroker.Filter, error) {
		c := ConfigFromMap(cfg)
		b := DefaultBroker()
		if v, ok := cfg["broker"].(*Broker); ok && v != nil {
			b = v
		}
		return b.Connect(c), QueueTopology(c.Declare...), nil
	}); err != nil {
		panic(fmt.Errorf("xbroker/memory: failed to register connector: %w", err))
	}
}

// Config controls memory broker connections.
type Config struct {
	// BufferSize is the per-queue capacity (default: 1024).
	BufferSize int
	// AutoDeclare creates queues on first send instead of failing (default: false).
	AutoDeclare bool
	// Declare lists queues the host topology ensures before every move.
	Declare []string
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	var declare []string
	switch v := cfg["declare"].(type) {
	case []string:
		declare = v
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok && s != "" {
				declare = append(declare, s)
			}
		}
	}
	return Config{
		BufferSize:  maxInt(1, getInt("buffer_size", 1024)),
		AutoDeclare: getBool("auto_declare", false),
		Declare:     declare,
	}
}

// toMap converts Config to the generic map expected by the connector factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":  c.BufferSize,
		"auto_declare": c.AutoDeclare,
		"declare":      c.Declare,
	}
}

// Message is a message stored in a memory queue.
type Message struct {
	ID         string
	Body       []byte
	Headers    xbroker.Headers
	EnqueuedAt time.Time
}

// Broker is an in-process set of named queues. Not suitable for production
// but excellent for tests and local development.
type Broker struct {
	clock xclock.Clock

	mu     sync.RWMutex
	queues map[string]chan *Message
}

var (
	defaultBroker     *Broker
	defaultBrokerOnce sync.Once
)

// DefaultBroker returns the process-wide broker used by the registered connector.
func DefaultBroker() *Broker {
	defaultBrokerOnce.Do(func() { defaultBroker = NewBroker(nil) })
	return defaultBroker
}

func NewBroker(clock xclock.Clock) *Broker {
	if clock == nil {
		clock = xclock.Default()
	}
	return &Broker{clock: clock, queues: make(map[string]chan *Message)}
}

// Declare creates queue name if missing. Idempotent.
func (b *Broker) Declare(name string, size int) {
	if size < 1 {
		size = 1024
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = make(chan *Message, size)
	}
}

func (b *Broker) queue(name string) (chan *Message, bool) {
	b.mu.RLock()
	q, ok := b.queues[name]
	b.mu.RUnlock()
	return q, ok
}

// Len reports the number of messages waiting in queue name.
func (b *Broker) Len(name string) int {
	q, ok := b.queue(name)
	if !ok {
		return 0
	}
	return len(q)
}

// Publish enqueues a message directly, bypassing any channel.
func (b *Broker) Publish(ctx context.Context, queue string, body []byte, headers xbroker.Headers) error {
	q, ok := b.queue(queue)
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	m := &Message{ID: uuid.NewString(), Body: body, Headers: headers, EnqueuedAt: b.clock.Now()}
	select {
	case q <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next message from queue, waiting until one arrives or ctx ends.
func (b *Broker) Get(ctx context.Context, queue string) (*Message, error) {
	q, ok := b.queue(queue)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	select {
	case m := <-q:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect opens a connection to the broker.
func (b *Broker) Connect(cfg Config) *Connection {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Connection{broker: b, cfg: cfg}
}

// Connection implements xbroker.Connection over a Broker.
type Connection struct {
	xbroker.ShutdownNotifier

	broker *Broker
	cfg    Config

	closed   atomic.Bool
	channels atomic.Uint64
	reason   atomic.Pointer[xbroker.ShutdownReason]
}

var _ xbroker.Connection = (*Connection)(nil)

// Broker returns the broker the connection belongs to.
func (c *Connection) Broker() *Broker { return c.broker }

// CreateChannel opens a channel. Not safe for concurrent use, like the native
// primitives it stands in for.
func (c *Connection) CreateChannel() (xbroker.Channel, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	c.channels.Add(1)
	return &Channel{conn: c}, nil
}

// Cleanup closes the connection. Calling it again is a no-op.
func (c *Connection) Cleanup(code int, text string) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.reason.Store(&xbroker.ShutdownReason{Code: code, Text: text})
	return nil
}

// Shutdown simulates the broker terminating the connection: registered
// shutdown handlers are notified with code and text.
func (c *Connection) Shutdown(code int, text string) {
	c.ShutdownNotifier.Notify(xbroker.ShutdownReason{Code: code, Text: text})
}

// Closed reports whether Cleanup ran.
func (c *Connection) Closed() bool { return c.closed.Load() }

// CleanupReason returns the code and text Cleanup was called with.
func (c *Connection) CleanupReason() (xbroker.ShutdownReason, bool) {
	r := c.reason.Load()
	if r == nil {
		return xbroker.ShutdownReason{}, false
	}
	return *r, true
}

// ChannelsCreated reports how many channels were opened.
func (c *Connection) ChannelsCreated() uint64 { return c.channels.Load() }

// Channel implements xbroker.Channel and xbroker.ClientContext.
type Channel struct {
	conn   *Connection
	closed atomic.Bool
}

var (
	_ xbroker.Channel       = (*Channel)(nil)
	_ xbroker.ClientContext = (*Channel)(nil)
)

func (ch *Channel) usable() error {
	if ch.closed.Load() {
		return ErrChannelClosed
	}
	if ch.conn.closed.Load() {
		return ErrConnectionClosed
	}
	return nil
}

// Declare ensures queue name exists.
func (ch *Channel) Declare(name string) error {
	if err := ch.usable(); err != nil {
		return err
	}
	ch.conn.broker.Declare(name, ch.conn.cfg.BufferSize)
	return nil
}

func (ch *Channel) BuildOutboundRequest(_ context.Context, destination string, body []byte) (*xbroker.OutboundRequest, error) {
	if err := ch.usable(); err != nil {
		return nil, err
	}
	return xbroker.NewOutboundRequest(uuid.NewString(), destination, body, ch.conn.broker.clock.Now()), nil
}

func (ch *Channel) Send(ctx context.Context, req *xbroker.OutboundRequest) error {
	if err := ch.usable(); err != nil {
		return err
	}
	if ch.conn.cfg.AutoDeclare {
		ch.conn.broker.Declare(req.Destination, ch.conn.cfg.BufferSize)
	}
	q, ok := ch.conn.broker.queue(req.Destination)
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, req.Destination)
	}
	m := &Message{
		ID:         req.ID,
		Body:       req.Body,
		Headers:    req.Headers.Clone(),
		EnqueuedAt: ch.conn.broker.clock.Now(),
	}
	select {
	case q <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive takes the next message from queue and wraps it in a receive context
// carrying this channel as client context and the message headers as attributes.
func (ch *Channel) Receive(ctx context.Context, queue string) (*xbroker.ReceiveContext, *Message, error) {
	if err := ch.usable(); err != nil {
		return nil, nil, err
	}
	m, err := ch.conn.broker.Get(ctx, queue)
	if err != nil {
		return nil, nil, err
	}
	rc := xbroker.NewReceiveContext(ctx, queue, m.Body, ch.conn.broker.clock.Now())
	xbroker.SetPayload[xbroker.ClientContext](rc, xbroker.ClientContextKey, ch)
	if m.Headers != nil {
		xbroker.SetPayload(rc, xbroker.MessageAttributesKey, m.Headers.Clone())
	}
	return rc, m, nil
}

func (ch *Channel) Close() error {
	ch.closed.Store(true)
	return nil
}

// QueueTopology returns a filter that declares queues on the client context
// before passing it on. Client contexts that cannot declare are passed through.
func QueueTopology(queues ...string) xbroker.Filter {
	return xbroker.FilterFunc(func(ctx context.Context, client xbroker.ClientContext, next xbroker.Pipe) error {
		if d, ok := client.(interface{ Declare(string) error }); ok {
			for _, q := range queues {
				if err := d.Declare(q); err != nil {
					return fmt.Errorf("declare %s: %w", q, err)
				}
			}
		}
		return next(ctx, client)
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
