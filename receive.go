package xbroker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ReceiveContext represents one inbound message under processing.
type ReceiveContext struct {
	ctx        context.Context
	body       []byte
	inputAddr  string
	receivedAt time.Time

	payloads payloads

	pendingMu sync.Mutex
	pending   []*PendingOperation
}

// NewReceiveContext wraps an inbound body. ctx scopes the receive: cancelling it
// cancels every send issued on its behalf.
func NewReceiveContext(ctx context.Context, inputAddress string, body []byte, receivedAt time.Time) *ReceiveContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ReceiveContext{
		ctx:        ctx,
		body:       body,
		inputAddr:  inputAddress,
		receivedAt: receivedAt,
	}
}

// Context returns the cancellation scope of the receive.
func (rc *ReceiveContext) Context() context.Context { return rc.ctx }

// Body returns the raw inbound body. Callers must not mutate it.
func (rc *ReceiveContext) Body() []byte { return rc.body }

// InputAddress is the queue or stream the message was received from.
func (rc *ReceiveContext) InputAddress() string { return rc.inputAddr }

func (rc *ReceiveContext) ReceivedAt() time.Time { return rc.receivedAt }

// Attributes returns the inbound message attributes, if the backend attached any.
func (rc *ReceiveContext) Attributes() (Headers, bool) {
	return PayloadOf(rc, MessageAttributesKey)
}

// AddPendingOperation registers op; the receive is not finished until op resolves.
// Safe for concurrent use.
func (rc *ReceiveContext) AddPendingOperation(op *PendingOperation) {
	if op == nil {
		return
	}
	rc.pendingMu.Lock()
	rc.pending = append(rc.pending, op)
	rc.pendingMu.Unlock()
}

// PendingOperations returns a snapshot of the registered operations.
func (rc *ReceiveContext) PendingOperations() []*PendingOperation {
	rc.pendingMu.Lock()
	defer rc.pendingMu.Unlock()
	out := make([]*PendingOperation, len(rc.pending))
	copy(out, rc.pending)
	return out
}

// Wait blocks until every pending operation resolves, including ones registered
// while waiting. It returns the joined errors of operations that did not complete.
func (rc *ReceiveContext) Wait(ctx context.Context) error {
	var errs []error
	seen := 0
	for {
		rc.pendingMu.Lock()
		batch := make([]*PendingOperation, len(rc.pending)-seen)
		copy(batch, rc.pending[seen:])
		rc.pendingMu.Unlock()

		if len(batch) == 0 {
			return errors.Join(errs...)
		}
		for _, op := range batch {
			select {
			case <-op.Done():
				if err := op.Err(); err != nil {
					errs = append(errs, err)
				}
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			}
		}
		seen += len(batch)
	}
}

// Complete finishes a handled receive. A handler failure is moved through
// errs when one is given, then every pending operation is awaited. A nil
// result means the message can be acknowledged. A failed move is reported
// once, through its pending operation.
func Complete(ctx context.Context, rc *ReceiveContext, cause error, errs *ErrorTransport) error {
	if cause != nil && errs != nil {
		err := errs.Send(rc, cause)
		switch {
		case err == nil:
			cause = nil
		case errors.Is(err, ErrInvalidArgument):
			// rejected before anything was registered
			cause = errors.Join(cause, err)
		}
	}
	if err := rc.Wait(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
