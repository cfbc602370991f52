package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbroker"
)

const TransportName = "nats-jetstream"

var ErrConnectionClosed = errors.New("natsjetstream: connection is closed")

// internal NATS headers are never exposed as message attributes
const natsHeaderPrefix = "Nats-"

func init() {
	if err := xbroker.RegisterConnector(TransportName, func(cfg map[string]any) (xbroker.Connection, xbroker.Filter, error) {
		c := ConfigFromMap(cfg)
		conn, err := NewConnection(c)
		if err != nil {
			return nil, nil, err
		}
		return conn, StreamTopology(c), nil
	}); err != nil {
		panic(fmt.Errorf("xbroker: failed to register connector %q: %w", TransportName, err))
	}
}

// Connection implements xbroker.Connection over a NATS connection.
type Connection struct {
	xbroker.ShutdownNotifier

	cfg    Config
	nc     *nats.Conn
	clock  xclock.Clock
	logger *xlog.Logger

	cleaning  atomic.Bool
	closeOnce sync.Once
}

var _ xbroker.Connection = (*Connection)(nil)

// NewConnection dials cfg.URL. When the client gives up reconnecting the
// connection raises a broker shutdown.
func NewConnection(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connection{
		cfg:    cfg,
		clock:  xclock.Default(),
		logger: xlog.Default().With(xlog.Str("connector", TransportName)),
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(c.onDisconnect),
		nats.ClosedHandler(c.onClosed),
	)
	if err != nil {
		return nil, fmt.Errorf("natsjetstream: connect %s: %w", cfg.URL, err)
	}
	c.nc = nc
	return c, nil
}

// Conn exposes the underlying NATS connection.
func (c *Connection) Conn() *nats.Conn { return c.nc }

func (c *Connection) Config() Config { return c.cfg }

// CreateChannel returns a JetStream context bound to the connection.
func (c *Connection) CreateChannel() (xbroker.Channel, error) {
	if c.cleaning.Load() || c.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	js, err := c.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("natsjetstream: jetstream context: %w", err)
	}
	return &Channel{conn: c, js: js}, nil
}

// Cleanup closes the NATS connection. Later calls are no-ops.
func (c *Connection) Cleanup(_ int, _ string) error {
	c.closeOnce.Do(func() {
		c.cleaning.Store(true)
		c.nc.Close()
	})
	return nil
}

func (c *Connection) onDisconnect(_ *nats.Conn, err error) {
	if err != nil && !c.cleaning.Load() {
		c.logger.Warn().Err(err).Msg("natsjetstream: disconnected")
	}
}

func (c *Connection) onClosed(nc *nats.Conn) {
	if c.cleaning.Load() {
		return
	}
	c.Notify(xbroker.ShutdownReason{
		Code: xbroker.ReplyConnectionForced,
		Text: "nats connection closed",
		Err:  nc.LastError(),
	})
}

// Channel implements xbroker.Channel and xbroker.ClientContext over JetStream.
type Channel struct {
	conn   *Connection
	js     nats.JetStreamContext
	closed atomic.Bool
}

var (
	_ xbroker.Channel       = (*Channel)(nil)
	_ xbroker.ClientContext = (*Channel)(nil)
)

// EnsureStream creates the configured stream when it does not exist.
func (ch *Channel) EnsureStream(ctx context.Context) error {
	cfg := ch.conn.cfg
	_, err := ch.js.StreamInfo(cfg.Stream, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return fmt.Errorf("natsjetstream: stream info %s: %w", cfg.Stream, err)
	}
	if _, err := ch.js.AddStream(cfg.streamConfig(), nats.Context(ctx)); err != nil {
		return fmt.Errorf("natsjetstream: add stream %s: %w", cfg.Stream, err)
	}
	return nil
}

func (ch *Channel) BuildOutboundRequest(_ context.Context, destination string, body []byte) (*xbroker.OutboundRequest, error) {
	if ch.closed.Load() || ch.conn.cleaning.Load() {
		return nil, ErrConnectionClosed
	}
	return xbroker.NewOutboundRequest(uuid.NewString(), destination, body, ch.conn.clock.Now()), nil
}

// Send publishes req to its destination subject and waits for the stream ack.
func (ch *Channel) Send(ctx context.Context, req *xbroker.OutboundRequest) error {
	if ch.closed.Load() {
		return ErrConnectionClosed
	}
	msg, err := toMsg(req)
	if err != nil {
		return err
	}
	if _, err := ch.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("natsjetstream: publish %s: %w", req.Destination, err)
	}
	return nil
}

func (ch *Channel) Close() error {
	ch.closed.Store(true)
	return nil
}

// StreamTopology returns a filter that ensures the configured stream exists.
func StreamTopology(cfg Config) xbroker.Filter {
	var ensured atomic.Bool
	return xbroker.FilterFunc(func(ctx context.Context, client xbroker.ClientContext, next xbroker.Pipe) error {
		if ch, ok := client.(*Channel); ok && !ensured.Load() {
			if err := ch.EnsureStream(ctx); err != nil {
				return err
			}
			ensured.Store(true)
		}
		return next(ctx, client)
	})
}

// toMsg converts req to a NATS message. The request ID doubles as the
// JetStream deduplication ID.
func toMsg(req *xbroker.OutboundRequest) (*nats.Msg, error) {
	strs, err := xbroker.HeaderStrings(xbroker.JSONCodec{}, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("natsjetstream: encode headers: %w", err)
	}
	msg := nats.NewMsg(req.Destination)
	msg.Data = req.Body
	for k, v := range strs {
		msg.Header.Set(k, v)
	}
	if req.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, req.ID)
	}
	return msg, nil
}

// headersOf returns the application headers of msg.
func headersOf(msg *nats.Msg) xbroker.Headers {
	out := make(xbroker.Headers, len(msg.Header))
	for k, vs := range msg.Header {
		if strings.HasPrefix(k, natsHeaderPrefix) || len(vs) == 0 {
			continue
		}
		out[k] = vs[0]
	}
	return out
}

func nowOf(c *Connection) time.Time {
	if c == nil {
		return time.Now()
	}
	return c.clock.Now()
}
