package xbroker

import (
	"context"
	"sync"
)

// ModelContext is a channel created by a ConnectionContext, scoped to the
// caller's context combined with the connection lifetime.
type ModelContext struct {
	conn    *ConnectionContext
	channel Channel
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func newModelContext(conn *ConnectionContext, ch Channel, ctx context.Context, cancel context.CancelFunc) *ModelContext {
	return &ModelContext{conn: conn, channel: ch, ctx: ctx, cancel: cancel}
}

// ConnectionContext returns the connection the channel belongs to.
func (m *ModelContext) ConnectionContext() *ConnectionContext { return m.conn }

// Channel returns the raw backend channel.
func (m *ModelContext) Channel() Channel { return m.channel }

// Context is done when the caller's scope or the connection ends.
func (m *ModelContext) Context() context.Context { return m.ctx }

// ClientContext returns the channel as a ClientContext when the backend's
// channels can send.
func (m *ModelContext) ClientContext() (ClientContext, bool) {
	cc, ok := m.channel.(ClientContext)
	return cc, ok
}

// Attach stores the channel's client context on rc so transports can move it.
func (m *ModelContext) Attach(rc *ReceiveContext) bool {
	cc, ok := m.ClientContext()
	if ok {
		SetPayload(rc, ClientContextKey, cc)
	}
	return ok
}

// Close releases the channel and ends its scope.
func (m *ModelContext) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.closeErr = m.channel.Close()
	})
	return m.closeErr
}
