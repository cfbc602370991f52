package xbroker

import (
	"context"
	"slices"
	"sync"
)

// Reply codes carried by shutdown notifications and cleanup calls.
const (
	ReplySuccess          = 200
	ReplyConnectionForced = 320
	ReplyInternalError    = 541
)

// ClientContext is the Strategy interface a backend exposes for sending.
type ClientContext interface {
	// BuildOutboundRequest constructs a request for destination with a copy of body.
	BuildOutboundRequest(ctx context.Context, destination string, body []byte) (*OutboundRequest, error)
	// Send issues req and blocks until the backend accepts or rejects it.
	Send(ctx context.Context, req *OutboundRequest) error
}

// Channel is a lightweight handle multiplexed over one connection.
type Channel interface {
	Close() error
}

// ShutdownReason describes an unsolicited connection termination.
type ShutdownReason struct {
	Code int
	Text string
	Err  error
}

// ShutdownHandler reacts to a connection shutdown.
type ShutdownHandler func(reason ShutdownReason)

// ShutdownSubscription is a revocable registration of a ShutdownHandler.
type ShutdownSubscription interface {
	Unsubscribe()
}

// Connection is the backend's native connection primitive.
//
// CreateChannel is not required to be safe for concurrent use.
// Cleanup must tolerate being called on an already cleaned up connection.
type Connection interface {
	CreateChannel() (Channel, error)
	OnShutdown(h ShutdownHandler) ShutdownSubscription
	Cleanup(code int, text string) error
}

// ShutdownNotifier is an embeddable registry of shutdown handlers for
// Connection implementations.
type ShutdownNotifier struct {
	mu       sync.Mutex
	seq      uint64
	handlers map[uint64]ShutdownHandler
}

type shutdownSubscription struct {
	n    *ShutdownNotifier
	id   uint64
	once sync.Once
}

func (s *shutdownSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.handlers, s.id)
		s.n.mu.Unlock()
	})
}

// OnShutdown registers h until the returned subscription is revoked.
func (n *ShutdownNotifier) OnShutdown(h ShutdownHandler) ShutdownSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[uint64]ShutdownHandler)
	}
	n.seq++
	n.handlers[n.seq] = h
	return &shutdownSubscription{n: n, id: n.seq}
}

// Notify invokes every registered handler with reason, in registration order.
// Handlers run outside the lock, so one revoked during Notify may still be called.
func (n *ShutdownNotifier) Notify(reason ShutdownReason) {
	n.mu.Lock()
	ids := make([]uint64, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	hs := make([]ShutdownHandler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, n.handlers[id])
	}
	n.mu.Unlock()

	for _, h := range hs {
		h(reason)
	}
}

// Subscribers returns the number of registered handlers.
func (n *ShutdownNotifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handlers)
}
