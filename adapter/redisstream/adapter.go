package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xclock"

	"github.com/trickstertwo/xbroker"
)

// Adapter: Redis Streams connector (Strategy + Adapter patterns)

const TransportName = "redis-streams"

var ErrConnectionClosed = errors.New("redisstream: connection is closed")

func init() {
	if err := xbroker.RegisterConnector(TransportName, func(cfg map[string]any) (xbroker.Connection, xbroker.Filter, error) {
		c := ConfigFromMap(cfg)
		conn, err := NewConnection(c)
		if err != nil {
			return nil, nil, err
		}
		return conn, StreamTopology(c.Group, c.Declare...), nil
	}); err != nil {
		panic(fmt.Errorf("xbroker: failed to register connector %q: %w", TransportName, err))
	}
}

// Connection implements xbroker.Connection over a go-redis client.
type Connection struct {
	xbroker.ShutdownNotifier

	cfg    Config
	client *redis.Client
	codec  xbroker.Codec
	clock  xclock.Clock

	closeOnce    sync.Once
	closed       atomic.Bool
	healthCancel context.CancelFunc
	healthDone   chan struct{}

	metrics *connectionMetrics
}

// connectionMetrics tracks performance telemetry
type connectionMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	acked         atomic.Uint64
	channels      atomic.Uint64
	publishErrors atomic.Uint64
	consumeErrors atomic.Uint64
}

// Stats is a snapshot of connection telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Acked         uint64
	Channels      uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

var _ xbroker.Connection = (*Connection)(nil)

// NewConnection dials Redis and verifies it answers PING.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := xbroker.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(context.Background(), client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return newConnection(cfg, client, codec), nil
}

func newConnection(cfg Config, client *redis.Client, codec xbroker.Codec) *Connection {
	c := &Connection{
		cfg:     cfg,
		client:  client,
		codec:   codec,
		clock:   xclock.Default(),
		metrics: &connectionMetrics{},
	}
	if cfg.HealthInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.healthCancel = cancel
		c.healthDone = make(chan struct{})
		go c.healthLoop(ctx)
	}
	return c
}

// Client exposes the underlying go-redis client.
func (c *Connection) Client() *redis.Client { return c.client }

func (c *Connection) Config() Config { return c.cfg }

// CreateChannel checks out a dedicated connection from the pool.
func (c *Connection) CreateChannel() (xbroker.Channel, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	c.metrics.channels.Add(1)
	return &Channel{conn: c, rc: c.client.Conn()}, nil
}

// Cleanup stops the health check and closes the client. Later calls are no-ops.
func (c *Connection) Cleanup(_ int, _ string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.healthCancel != nil {
			c.healthCancel()
			<-c.healthDone
		}
		err = c.client.Close()
	})
	return err
}

// Stats returns current connection telemetry.
func (c *Connection) Stats() Stats {
	return Stats{
		Published:     c.metrics.published.Load(),
		Consumed:      c.metrics.consumed.Load(),
		Acked:         c.metrics.acked.Load(),
		Channels:      c.metrics.channels.Load(),
		PublishErrors: c.metrics.publishErrors.Load(),
		ConsumeErrors: c.metrics.consumeErrors.Load(),
	}
}

// healthLoop raises a shutdown once Redis stops answering.
func (c *Connection) healthLoop(ctx context.Context) {
	defer close(c.healthDone)
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := ping(ctx, c.client); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Notify may run Cleanup, which waits for this loop.
			go c.Notify(xbroker.ShutdownReason{
				Code: xbroker.ReplyConnectionForced,
				Text: unreachableText,
				Err:  err,
			})
			return
		}
	}
}

// StreamTopology returns a filter that ensures each stream and its consumer
// group exist before the pipe runs.
func StreamTopology(group string, streams ...string) xbroker.Filter {
	return xbroker.FilterFunc(func(ctx context.Context, client xbroker.ClientContext, next xbroker.Pipe) error {
		if ch, ok := client.(*Channel); ok {
			for _, s := range streams {
				if err := ch.EnsureGroup(ctx, s, group); err != nil {
					return err
				}
			}
		}
		return next(ctx, client)
	})
}

func ensureGroup(ctx context.Context, c redis.Cmdable, stream, group string) error {
	err := c.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisstream: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Helper functions

func ping(ctx context.Context, c *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}

func _max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func _min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
