package xbroker

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// PreSendFunc customizes an outbound request before it is sent. headers is
// req.Headers, already holding the forwarded inbound headers.
type PreSendFunc func(req *OutboundRequest, headers Headers)

// MoveOption configures a MoveTransport.
type MoveOption func(*MoveTransport)

// WithMoveLogger sets the logger used for move diagnostics.
func WithMoveLogger(l *xlog.Logger) MoveOption {
	return func(t *MoveTransport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMoveClock sets the clock used to time sends.
func WithMoveClock(c xclock.Clock) MoveOption {
	return func(t *MoveTransport) {
		if c != nil {
			t.clock = c
		}
	}
}

// MoveTransport redirects received messages to one destination.
// Error, dead-letter and audit transports are built on top of it.
type MoveTransport struct {
	destination string
	topology    Filter
	logger      *xlog.Logger
	clock       xclock.Clock
}

// NewMoveTransport returns a transport moving messages to destination. topology
// runs before every send; nil means no topology step.
func NewMoveTransport(destination string, topology Filter, opts ...MoveOption) *MoveTransport {
	if topology == nil {
		topology = NoopFilter
	}
	t := &MoveTransport{
		destination: destination,
		topology:    topology,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	if t.logger == nil {
		t.logger = xlog.Default()
	}
	if t.clock == nil {
		t.clock = xclock.Default()
	}
	return t
}

// Destination returns the address messages are moved to.
func (t *MoveTransport) Destination() string { return t.destination }

// Move builds a copy of the received message addressed to the destination and
// sends it. The send is registered as a pending operation on rc, so the receive
// cannot finish before the send resolves.
//
// A receive without a client context fails with ErrMissingClientContext and
// nothing is sent or registered. Topology and build failures are returned and
// also registered as a faulted operation; send failures surface only through
// the registered operation.
func (t *MoveTransport) Move(rc *ReceiveContext, preSend PreSendFunc) error {
	if rc == nil {
		return fmt.Errorf("%w: nil receive context", ErrInvalidArgument)
	}
	client, ok := PayloadOf(rc, ClientContextKey)
	if !ok || client == nil {
		return ErrMissingClientContext
	}

	ctx := rc.Context()
	opName := "move:" + t.destination

	if err := t.topology.Send(ctx, client, EmptyPipe); err != nil {
		err = fmt.Errorf("move to %s: topology: %w", t.destination, err)
		rc.AddPendingOperation(Resolved(opName, err))
		return err
	}

	req, err := client.BuildOutboundRequest(ctx, t.destination, rc.Body())
	if err != nil {
		err = fmt.Errorf("move to %s: build request: %w", t.destination, err)
		rc.AddPendingOperation(Resolved(opName, err))
		return err
	}
	if req.Headers == nil {
		req.Headers = make(Headers)
	}

	copyReceivedHeaders(rc, req.Headers)

	if preSend != nil {
		preSend(req, req.Headers)
	}

	start := t.clock.Now()
	op := Go(ctx, opName, func(ctx context.Context) error {
		if err := client.Send(ctx, req); err != nil {
			return fmt.Errorf("move to %s: send: %w", t.destination, err)
		}
		t.logger.With(
			xlog.Str("destination", t.destination),
			xlog.Str("message_id", req.ID),
			xlog.Dur("duration", t.clock.Since(start)),
		).Debug().Msg("xbroker: message moved")
		return nil
	})
	rc.AddPendingOperation(op)
	return nil
}

func copyReceivedHeaders(rc *ReceiveContext, dst Headers) {
	attrs, ok := rc.Attributes()
	if !ok {
		return
	}
	CopyForwardedHeaders(dst, attrs)
}
