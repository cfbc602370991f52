package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbroker"
)

// Handler processes one stream entry. Operations registered on rc (moves to
// error or audit streams) are awaited before the entry is acknowledged.
type Handler func(rc *xbroker.ReceiveContext) error

// SubscribeOption configures Subscribe.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	errors *xbroker.ErrorTransport
	logger *xlog.Logger
}

// WithErrorTransport moves entries whose handler failed to an error stream.
// A successful move acknowledges the original entry.
func WithErrorTransport(t *xbroker.ErrorTransport) SubscribeOption {
	return func(o *subscribeOptions) { o.errors = t }
}

// WithSubscribeLogger sets the logger used for consume diagnostics.
func WithSubscribeLogger(l *xlog.Logger) SubscribeOption {
	return func(o *subscribeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Subscription is a running consumer group reader.
type Subscription struct {
	stream string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Stream returns the stream being read.
func (s *Subscription) Stream() string { return s.stream }

// Close stops polling and waits for in-flight entries to finish.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

type consumer struct {
	conn    *Connection
	stream  string
	handler Handler
	opts    subscribeOptions
}

// Subscribe reads stream through the connection's consumer group. Each worker
// owns a channel created through cc, and every entry is handed to handler as a
// ReceiveContext carrying that channel as its client context.
func Subscribe(ctx context.Context, cc *xbroker.ConnectionContext, stream string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	conn, ok := cc.Connection().(*Connection)
	if !ok {
		return nil, fmt.Errorf("%w: connection is not a redis streams connection", xbroker.ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", xbroker.ErrInvalidArgument)
	}

	c := &consumer{conn: conn, stream: stream, handler: handler, opts: subscribeOptions{logger: xlog.Default()}}
	for _, o := range opts {
		if o != nil {
			o(&c.opts)
		}
	}

	// Ensure consumer group exists (idempotent)
	if conn.cfg.AutoCreate {
		if err := ensureGroup(ctx, conn.client, stream, conn.cfg.Group); err != nil {
			return nil, err
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(cc.Context(), cancel)
	sub := &Subscription{stream: stream, cancel: func() { stop(); cancel() }}

	workers := _max(1, conn.cfg.Concurrency)
	models := make([]*xbroker.ModelContext, 0, workers)
	for i := 0; i < workers; i++ {
		mc, err := cc.CreateModelContext(innerCtx)
		if err != nil {
			for _, m := range models {
				_ = m.Close()
			}
			sub.cancel()
			return nil, err
		}
		models = append(models, mc)
	}

	// Buffered work channel (buffer = 2x workers for burst absorption)
	workCh := make(chan entry, workers*2)

	for _, mc := range models {
		sub.wg.Add(1)
		go func(mc *xbroker.ModelContext) {
			defer sub.wg.Done()
			defer mc.Close()
			for e := range workCh {
				c.process(innerCtx, mc, e)
			}
		}(mc)
	}

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		c.pollerLoop(innerCtx, workCh)
	}()

	// Optional pending entry recovery loop (claims messages stuck on other consumers)
	if conn.cfg.ClaimMinIdle > 0 && conn.cfg.ClaimInterval > 0 && conn.cfg.ClaimBatch > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			c.claimLoop(innerCtx, workCh)
		}()
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		producers.Wait()
		close(workCh) // Signal workers to exit
	}()

	return sub, nil
}

func (c *consumer) process(ctx context.Context, mc *xbroker.ModelContext, e entry) {
	log := c.opts.logger.With(
		xlog.Str("stream", c.stream),
		xlog.Str("entry_id", e.StreamID),
	)

	rc := xbroker.NewReceiveContext(mc.Context(), c.stream, e.Body, c.conn.clock.Now())
	mc.Attach(rc)
	xbroker.SetPayload(rc, xbroker.MessageAttributesKey, e.Headers)

	if err := xbroker.Complete(ctx, rc, c.safeHandle(rc), c.opts.errors); err != nil {
		// leave pending so the group redelivers or a claimer picks it up
		log.Warn().Err(err).Msg("redisstream: entry not acknowledged")
		return
	}

	if err := c.conn.client.XAck(ctx, c.stream, c.conn.cfg.Group, e.StreamID).Err(); err != nil {
		log.Warn().Err(err).Msg("redisstream: xack failed")
		return
	}
	c.conn.metrics.acked.Add(1)
	// Optionally delete from stream after ack (saves memory)
	if c.conn.cfg.AutoDeleteOnAck {
		_ = c.conn.client.XDel(ctx, c.stream, e.StreamID).Err()
	}
}

func (c *consumer) safeHandle(rc *xbroker.ReceiveContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(rc)
}

// pollerLoop reads from Redis Streams and distributes entries to workers.
func (c *consumer) pollerLoop(ctx context.Context, workCh chan<- entry) {
	xArgs := &redis.XReadGroupArgs{
		Group:    c.conn.cfg.Group,
		Consumer: c.conn.cfg.Consumer,
		Streams:  []string{c.stream, ">"},
		Count:    int64(_max(1, c.conn.cfg.BatchSize)),
		Block:    c.conn.cfg.Block,
		NoAck:    false,
	}

	backoff := time.Millisecond * 100
	maxBackoff := time.Second * 5

	for {
		// Fast exit on context cancellation
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.conn.client.XReadGroup(ctx, xArgs).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}

			if errors.Is(err, redis.Nil) {
				// Block timeout (expected), continue polling
				backoff = time.Millisecond * 100
				continue
			}

			// Transient error: exponential backoff
			c.conn.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = _min(backoff*2, maxBackoff)
			case <-ctx.Done():
				return
			}
			continue
		}

		// Reset backoff on successful read
		backoff = time.Millisecond * 100

		for _, stream := range res {
			for _, msg := range stream.Messages {
				c.conn.metrics.consumed.Add(1)
				select {
				case workCh <- decodeEntry(msg.ID, msg.Values):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claimLoop periodically claims entries left pending by other consumers and
// hands them to the workers.
func (c *consumer) claimLoop(ctx context.Context, workCh chan<- entry) {
	ticker := time.NewTicker(c.conn.cfg.ClaimInterval)
	defer ticker.Stop()

	batch := int64(_max(1, c.conn.cfg.ClaimBatch))
	minIdle := c.conn.cfg.ClaimMinIdle

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Pending entries that haven't been acked and are idle > minIdle
		pending, err := c.conn.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: c.stream,
			Group:  c.conn.cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  batch,
			Idle:   minIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}

		msgs, err := c.conn.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.conn.cfg.Group,
			Consumer: c.conn.cfg.Consumer,
			MinIdle:  minIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			c.conn.metrics.consumeErrors.Add(1)
			continue
		}
		for _, msg := range msgs {
			select {
			case workCh <- decodeEntry(msg.ID, msg.Values):
			case <-ctx.Done():
				return
			}
		}
	}
}
