package xbroker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConn counts overlapping CreateChannel calls and records cleanups.
type fakeConn struct {
	ShutdownNotifier

	delay     time.Duration
	createErr error
	// onCleanup runs inside Cleanup, e.g. to raise a shutdown like real clients do.
	onCleanup func(f *fakeConn, code int, text string)

	active    atomic.Int32
	maxActive atomic.Int32
	created   atomic.Int32
	entered   chan struct{}
	release   chan struct{}

	mu       sync.Mutex
	cleanups []ShutdownReason
}

type fakeChannel struct {
	closed atomic.Bool
}

func (c *fakeChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func (f *fakeConn) CreateChannel() (Channel, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created.Add(1)
	return &fakeChannel{}, nil
}

func (f *fakeConn) Cleanup(code int, text string) error {
	f.mu.Lock()
	f.cleanups = append(f.cleanups, ShutdownReason{Code: code, Text: text})
	f.mu.Unlock()
	if f.onCleanup != nil {
		f.onCleanup(f, code, text)
	}
	return nil
}

func (f *fakeConn) Cleanups() []ShutdownReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ShutdownReason, len(f.cleanups))
	copy(out, f.cleanups)
	return out
}

// fakeClient records sent requests. send overrides the default behaviour.
type fakeClient struct {
	buildErr error
	send     func(ctx context.Context, req *OutboundRequest) error

	mu   sync.Mutex
	sent []*OutboundRequest
	seq  atomic.Int64
}

func (c *fakeClient) BuildOutboundRequest(_ context.Context, destination string, body []byte) (*OutboundRequest, error) {
	if c.buildErr != nil {
		return nil, c.buildErr
	}
	id := c.seq.Add(1)
	return NewOutboundRequest("req-"+strconv.FormatInt(id, 10), destination, body, time.Now()), nil
}

func (c *fakeClient) Send(ctx context.Context, req *OutboundRequest) error {
	if c.send != nil {
		if err := c.send(ctx, req); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.sent = append(c.sent, req)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Sent() []*OutboundRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*OutboundRequest, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) Close() error { return nil }

var errBoom = errors.New("boom")

func newReceive(ctx context.Context, client ClientContext, body []byte, headers Headers) *ReceiveContext {
	rc := NewReceiveContext(ctx, "input-queue", body, time.Now())
	if client != nil {
		SetPayload(rc, ClientContextKey, client)
	}
	if headers != nil {
		SetPayload(rc, MessageAttributesKey, headers)
	}
	return rc
}
