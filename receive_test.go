package xbroker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveContext_Payloads(t *testing.T) {
	rc := NewReceiveContext(context.Background(), "q", []byte("x"), time.Now())

	_, ok := PayloadOf(rc, ClientContextKey)
	assert.False(t, ok)
	_, ok = rc.Attributes()
	assert.False(t, ok)

	client := &fakeClient{}
	SetPayload[ClientContext](rc, ClientContextKey, client)
	SetPayload(rc, MessageAttributesKey, Headers{"a": 1})

	got, ok := PayloadOf(rc, ClientContextKey)
	require.True(t, ok)
	assert.Same(t, client, got)

	attrs, ok := rc.Attributes()
	require.True(t, ok)
	assert.Equal(t, 1, attrs["a"])

	other := NewPayloadKey[ClientContext]("client-context")
	_, ok = PayloadOf(rc, other)
	assert.False(t, ok, "keys compare by identity")
	assert.Equal(t, "client-context", other.String())

	var nilRC *ReceiveContext
	_, ok = PayloadOf(nilRC, ClientContextKey)
	assert.False(t, ok)
}

func TestReceiveContext_WaitJoinsFailures(t *testing.T) {
	rc := NewReceiveContext(context.Background(), "q", nil, time.Now())
	other := errors.New("other")

	rc.AddPendingOperation(Resolved("ok", nil))
	rc.AddPendingOperation(Resolved("bad", errBoom))
	rc.AddPendingOperation(Go(context.Background(), "late", func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return other
	}))

	err := rc.Wait(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, other)
	assert.Len(t, rc.PendingOperations(), 3)
}

func TestReceiveContext_WaitSeesOperationsAddedWhileWaiting(t *testing.T) {
	rc := NewReceiveContext(context.Background(), "q", nil, time.Now())
	rc.AddPendingOperation(Go(context.Background(), "first", func(context.Context) error {
		rc.AddPendingOperation(Resolved("second", errBoom))
		return nil
	}))

	assert.ErrorIs(t, rc.Wait(context.Background()), errBoom)
}

func TestReceiveContext_WaitHonoursContext(t *testing.T) {
	rc := NewReceiveContext(context.Background(), "q", nil, time.Now())
	block := make(chan struct{})
	defer close(block)
	rc.AddPendingOperation(Go(context.Background(), "stuck", func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rc.Wait(ctx), context.DeadlineExceeded)
}

func TestPendingOperation_PanicFaults(t *testing.T) {
	op := Go(context.Background(), "panics", func(context.Context) error { panic("kaboom") })
	err := op.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, StatusFaulted, op.Status())
	assert.Equal(t, "faulted", op.Status().String())
}

func TestPendingOperation_Statuses(t *testing.T) {
	assert.Equal(t, StatusCompleted, Resolved("a", nil).Status())
	assert.Equal(t, StatusCanceled, Resolved("b", context.Canceled).Status())
	assert.Equal(t, StatusCanceled, Resolved("c", context.DeadlineExceeded).Status())
	assert.Equal(t, StatusFaulted, Resolved("d", errBoom).Status())
}

func TestComplete(t *testing.T) {
	failing := FilterFunc(func(context.Context, ClientContext, Pipe) error { return errBoom })

	t.Run("no failure", func(t *testing.T) {
		rc := newReceive(context.Background(), &fakeClient{}, []byte("x"), nil)
		assert.NoError(t, Complete(context.Background(), rc, nil, nil))
	})

	t.Run("failure without error transport", func(t *testing.T) {
		rc := newReceive(context.Background(), &fakeClient{}, []byte("x"), nil)
		assert.ErrorIs(t, Complete(context.Background(), rc, assert.AnError, nil), assert.AnError)
	})

	t.Run("failure moved", func(t *testing.T) {
		client := &fakeClient{}
		rc := newReceive(context.Background(), client, []byte("x"), nil)
		errs := NewErrorTransport(NewMoveTransport("errors", nil), time.Hour)

		require.NoError(t, Complete(context.Background(), rc, assert.AnError, errs))
		require.Len(t, client.Sent(), 1)
		assert.Equal(t, ReasonFault, client.Sent()[0].Headers[HeaderReason])
	})

	t.Run("move topology failure reported once", func(t *testing.T) {
		rc := newReceive(context.Background(), &fakeClient{}, []byte("x"), nil)
		errs := NewErrorTransport(NewMoveTransport("errors", failing), time.Hour)

		err := Complete(context.Background(), rc, assert.AnError, errs)
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 1, strings.Count(err.Error(), "topology"))
	})

	t.Run("move rejected without client context", func(t *testing.T) {
		rc := newReceive(context.Background(), nil, []byte("x"), nil)
		errs := NewErrorTransport(NewMoveTransport("errors", nil), time.Hour)

		err := Complete(context.Background(), rc, assert.AnError, errs)
		assert.ErrorIs(t, err, assert.AnError)
		assert.ErrorIs(t, err, ErrMissingClientContext)
	})
}
