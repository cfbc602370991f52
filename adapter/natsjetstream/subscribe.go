package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xbroker"
)

// Handler processes one JetStream message. Operations registered on rc are
// awaited before the message is acknowledged.
type Handler func(rc *xbroker.ReceiveContext) error

// SubscribeOption configures Subscribe.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	errors *xbroker.ErrorTransport
	logger *xlog.Logger
}

// WithErrorTransport moves messages whose handler failed to an error subject.
// A successful move acknowledges the original message.
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

// Subscription is a durable queue subscription on one subject.
type Subscription struct {
	sub   *nats.Subscription
	model *xbroker.ModelContext
	once  sync.Once
	err   error
}

// Close drains the subscription and releases its channel.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.sub.Drain()
		if err := s.model.Close(); err != nil {
			s.err = errors.Join(s.err, err)
		}
	})
	return s.err
}

// NewReceiveContext wraps msg for the transports: the channel of mc is the
// client context and the application headers are the message attributes.
func NewReceiveContext(ctx context.Context, mc *xbroker.ModelContext, msg *nats.Msg) *xbroker.ReceiveContext {
	conn, _ := mc.ConnectionContext().Connection().(*Connection)
	rc := xbroker.NewReceiveContext(ctx, msg.Subject, msg.Data, nowOf(conn))
	mc.Attach(rc)
	xbroker.SetPayload(rc, xbroker.MessageAttributesKey, headersOf(msg))
	return rc
}

// Subscribe binds a durable queue consumer to subject. Messages are handed to
// handler with a ReceiveContext whose client context is a channel created
// through cc; the message is acked once the handler and every registered
// operation succeed, and nak'ed otherwise.
func Subscribe(ctx context.Context, cc *xbroker.ConnectionContext, subject, durable string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	conn, ok := cc.Connection().(*Connection)
	if !ok {
		return nil, fmt.Errorf("%w: connection is not a nats connection", xbroker.ErrInvalidArgument)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", xbroker.ErrInvalidArgument)
	}
	o := subscribeOptions{logger: xlog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	mc, err := cc.CreateModelContext(ctx)
	if err != nil {
		return nil, err
	}
	ch := mc.Channel().(*Channel)
	if err := ch.EnsureStream(ctx); err != nil {
		_ = mc.Close()
		return nil, err
	}

	durable = conn.cfg.DurablePrefix + durable
	log := o.logger.With(xlog.Str("subject", subject), xlog.Str("durable", durable))

	sub, err := ch.js.QueueSubscribe(subject, durable, func(msg *nats.Msg) {
		rc := NewReceiveContext(mc.Context(), mc, msg)

		if err := xbroker.Complete(mc.Context(), rc, safeHandle(handler, rc), o.errors); err != nil {
			log.Warn().Err(err).Msg("natsjetstream: message not acknowledged")
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Msg("natsjetstream: ack failed")
		}
	},
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(conn.cfg.AckWait),
		nats.MaxAckPending(conn.cfg.MaxAckPending),
	)
	if err != nil {
		_ = mc.Close()
		return nil, fmt.Errorf("natsjetstream: subscribe %s: %w", subject, err)
	}
	return &Subscription{sub: sub, model: mc}, nil
}

func safeHandle(h Handler, rc *xbroker.ReceiveContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(rc)
}
