package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xbroker"
)

// Channel is a dedicated Redis connection. It implements xbroker.Channel and
// xbroker.ClientContext; sends are written with XADD.
type Channel struct {
	conn *Connection

	mu     sync.Mutex // *redis.Conn is not safe for concurrent use
	rc     *redis.Conn
	closed atomic.Bool
}

var (
	_ xbroker.Channel       = (*Channel)(nil)
	_ xbroker.ClientContext = (*Channel)(nil)
)

// EnsureGroup creates stream and its consumer group when missing.
func (ch *Channel) EnsureGroup(ctx context.Context, stream, group string) error {
	if ch.closed.Load() {
		return ErrConnectionClosed
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ensureGroup(ctx, ch.rc, stream, group)
}

func (ch *Channel) BuildOutboundRequest(_ context.Context, destination string, body []byte) (*xbroker.OutboundRequest, error) {
	if ch.closed.Load() || ch.conn.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return xbroker.NewOutboundRequest(uuid.NewString(), destination, body, ch.conn.clock.Now()), nil
}

// Send appends req to its destination stream.
func (ch *Channel) Send(ctx context.Context, req *xbroker.OutboundRequest) error {
	if ch.closed.Load() {
		return ErrConnectionClosed
	}
	vals, err := encodeRequest(ch.conn.codec, req)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: req.Destination,
		ID:     "*", // Let Redis generate ID
		Values: vals,
	}
	// Approximate trimming to keep stream bounded
	if ch.conn.cfg.MaxLenApprox > 0 {
		args.MaxLen = ch.conn.cfg.MaxLenApprox
		args.Approx = true
	}

	ch.mu.Lock()
	err = ch.rc.XAdd(ctx, args).Err()
	ch.mu.Unlock()
	if err != nil {
		ch.conn.metrics.publishErrors.Add(1)
		return fmt.Errorf("redisstream: xadd %s: %w", req.Destination, err)
	}
	ch.conn.metrics.published.Add(1)
	return nil
}

// Close returns the dedicated connection to the pool.
func (ch *Channel) Close() error {
	if ch.closed.Swap(true) {
		return nil
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.rc.Close()
}

// encodeRequest flattens req into stream entry values. Headers become
// "meta:"-prefixed string fields.
func encodeRequest(codec xbroker.Codec, req *xbroker.OutboundRequest) (map[string]any, error) {
	meta, err := xbroker.HeaderStrings(codec, req.Headers)
	if err != nil {
		return nil, fmt.Errorf("redisstream: encode headers: %w", err)
	}

	// Pre-size map to reduce rehashing: id, payload, createdAt + headers
	vals := make(map[string]any, 3+len(meta))
	if req.ID != "" {
		vals[fieldID] = req.ID
	}
	// raw payload bytes (binary-safe, no base64 encoding overhead)
	vals[fieldBody] = req.Body
	vals[fieldCreatedAt] = req.CreatedAt.UnixNano()
	for k, v := range meta {
		vals[fieldMetaPrefix+k] = v
	}
	return vals, nil
}

// entry is a decoded stream entry.
type entry struct {
	StreamID  string
	MessageID string
	Body      []byte
	CreatedAt time.Time
	Headers   xbroker.Headers
}

// decodeEntry reconstructs an entry from Redis stream values.
func decodeEntry(id string, vals map[string]any) entry {
	e := entry{StreamID: id, Headers: make(xbroker.Headers, 4)}

	if v, ok := vals[fieldID]; ok {
		e.MessageID = asString(v)
	}
	if v, ok := vals[fieldBody]; ok {
		switch p := v.(type) {
		case []byte:
			e.Body = p
		case string:
			e.Body = []byte(p)
		}
	}
	if ca := vals[fieldCreatedAt]; ca != nil {
		if ns, ok := toInt64(ca); ok && ns > 0 {
			e.CreatedAt = time.Unix(0, ns)
		}
	}
	for k, v := range vals {
		if strings.HasPrefix(k, fieldMetaPrefix) {
			e.Headers[strings.TrimPrefix(k, fieldMetaPrefix)] = asString(v)
		}
	}
	return e
}

// Helper functions for type conversion

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		// Try integer parsing first (faster)
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		// Fall back to float parsing for scientific notation
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
