package redisstream

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xbroker"
)

// testConfig points at REDIS_ADDR (default 127.0.0.1:6379).
func testConfig() Config {
	cfg := Defaults()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Concurrency = 2
	cfg.Block = 200 * time.Millisecond
	cfg.HealthInterval = 0
	return cfg
}

// redisClient returns a connected Redis client for testing.
func redisClient(t *testing.T) *redis.Client {
	cfg := testConfig()
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// cleanupStream removes a stream and its consumer group.
func cleanupStream(t *testing.T, client *redis.Client, stream, group string) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.XGroupDestroy(ctx, stream, group).Err()
		_ = client.Del(ctx, stream).Err()
	})
}

func uniqueStream(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	created := time.Unix(0, 1700000000123456789)
	req := xbroker.NewOutboundRequest("req-1", "orders_error", []byte(`{"a":1}`), created)
	req.Headers["priority"] = "5"
	req.Headers.SetTimeToLive(time.Minute)
	req.Headers["tags"] = []string{"x", "y"}

	vals, err := encodeRequest(xbroker.JSONCodec{}, req)
	require.NoError(t, err)
	assert.Equal(t, "5", vals["meta:priority"])
	assert.Equal(t, "1m0s", vals["meta:time-to-live"])
	assert.Equal(t, `["x","y"]`, vals["meta:tags"])

	// Redis returns every field as a string
	wire := make(map[string]any, len(vals))
	for k, v := range vals {
		switch x := v.(type) {
		case []byte:
			wire[k] = string(x)
		default:
			wire[k] = asString(x)
		}
	}

	e := decodeEntry("1-0", wire)
	assert.Equal(t, "1-0", e.StreamID)
	assert.Equal(t, "req-1", e.MessageID)
	assert.Equal(t, []byte(`{"a":1}`), e.Body)
	assert.True(t, created.Equal(e.CreatedAt))
	ttl, ok := e.Headers.TimeToLive()
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)
	assert.Equal(t, "5", e.Headers["priority"])
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{"42", 42, true},
		{"1e3", 1000, true},
		{[]byte("7"), 7, true},
		{"", 0, false},
		{struct{}{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfigFromMap(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"addr":            "redis:6380",
		"block":           "250ms",
		"concurrency":     float64(3),
		"declare":         []any{"a_error", "b_error"},
		"health_interval": time.Duration(0),
		"codec":           "msgpack",
	})
	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, 250*time.Millisecond, c.Block)
	assert.Equal(t, 3, c.Concurrency)
	assert.Equal(t, []string{"a_error", "b_error"}, c.Declare)
	assert.Zero(t, c.HealthInterval)
	assert.Equal(t, "msgpack", c.Codec)
	assert.Equal(t, "xbroker", c.Group)
	assert.NoError(t, c.Validate())

	back := ConfigFromMap(c.toMap())
	assert.Equal(t, c, back)
}

func TestConfig_Validate(t *testing.T) {
	c := Defaults()
	c.Addr = ""
	assert.Error(t, c.Validate())

	c = Defaults()
	c.ClaimMinIdle = time.Second
	c.ClaimInterval = 0
	assert.Error(t, c.Validate())

	c = Defaults()
	c.TLS = true
	assert.Equal(t, "rediss://127.0.0.1:6379/0", c.HostAddress())
}

func TestMove_WritesStreamEntry(t *testing.T) {
	client := redisClient(t)
	stream := uniqueStream("orders_error")
	cfg := testConfig()
	cleanupStream(t, client, stream, cfg.Group)

	conn, err := NewConnection(cfg)
	require.NoError(t, err)
	cc := xbroker.NewConnectionContext(context.Background(), conn, xbroker.HostConfig{HostAddress: cfg.HostAddress(), StopTimeout: time.Second}, StreamTopology(cfg.Group, stream))
	defer cc.Close(context.Background())

	mc, err := cc.CreateModelContext(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	rc := xbroker.NewReceiveContext(context.Background(), "orders", []byte("body"), time.Now())
	require.True(t, mc.Attach(rc))
	xbroker.SetPayload(rc, xbroker.MessageAttributesKey, xbroker.Headers{"MT-Host": "x", "priority": "5"})

	move := xbroker.NewMoveTransport(stream, cc.Topology())
	require.NoError(t, xbroker.NewErrorTransport(move, 0).Send(rc, errors.New("handler failed")))
	require.NoError(t, rc.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	e := decodeEntry(msgs[0].ID, msgs[0].Values)
	assert.Equal(t, []byte("body"), e.Body)
	assert.Equal(t, "5", e.Headers["priority"])
	assert.NotContains(t, e.Headers, "MT-Host")
	assert.Equal(t, "handler failed", e.Headers[xbroker.HeaderFaultMessage])

	groups, err := client.XInfoGroups(ctx, stream).Result()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, cfg.Group, groups[0].Name)
	assert.Equal(t, uint64(1), conn.Stats().Published)
}

func TestSubscribe_FailedEntriesMoveToErrorStream(t *testing.T) {
	client := redisClient(t)
	input := uniqueStream("orders")
	errStream := input + "_error"
	cfg := testConfig()
	cleanupStream(t, client, input, cfg.Group)
	cleanupStream(t, client, errStream, cfg.Group)

	conn, err := NewConnection(cfg)
	require.NoError(t, err)
	cc := xbroker.NewConnectionContext(context.Background(), conn, xbroker.HostConfig{HostAddress: cfg.HostAddress(), StopTimeout: time.Second}, nil)
	defer cc.Close(context.Background())

	var handled atomic.Int32
	errTransport := xbroker.NewErrorTransport(xbroker.NewMoveTransport(errStream, StreamTopology(cfg.Group, errStream)), time.Hour)
	sub, err := Subscribe(context.Background(), cc, input, func(rc *xbroker.ReceiveContext) error {
		handled.Add(1)
		if string(rc.Body()) == "bad" {
			return assert.AnError
		}
		return nil
	}, WithErrorTransport(errTransport))
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: input, Values: map[string]any{fieldBody: "good"}}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: input, Values: map[string]any{fieldBody: "bad", "meta:tenant": "t1"}}).Err())

	require.Eventually(t, func() bool { return conn.Stats().Acked == 2 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), handled.Load())

	msgs, err := client.XRange(ctx, errStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	e := decodeEntry(msgs[0].ID, msgs[0].Values)
	assert.Equal(t, []byte("bad"), e.Body)
	assert.Equal(t, "t1", e.Headers["tenant"])
	assert.Equal(t, xbroker.ReasonFault, e.Headers[xbroker.HeaderReason])

	pending, err := client.XPending(ctx, input, cfg.Group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestSubscribe_ClaimsEntriesLeftByCrashedConsumer(t *testing.T) {
	client := redisClient(t)
	input := uniqueStream("claims")
	cfg := testConfig()
	cfg.ClaimMinIdle = 50 * time.Millisecond
	cfg.ClaimInterval = 50 * time.Millisecond
	cleanupStream(t, client, input, cfg.Group)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.XGroupCreateMkStream(ctx, input, cfg.Group, "0").Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: input, Values: map[string]any{fieldBody: "orphan"}}).Err())

	// a consumer that reads and never acks
	_, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: "crashed",
		Streams:  []string{input, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	time.Sleep(2 * cfg.ClaimMinIdle)

	conn, err := NewConnection(cfg)
	require.NoError(t, err)
	cc := xbroker.NewConnectionContext(context.Background(), conn, xbroker.HostConfig{HostAddress: cfg.HostAddress(), StopTimeout: time.Second}, nil)
	defer cc.Close(context.Background())

	bodies := make(chan string, 1)
	sub, err := Subscribe(context.Background(), cc, input, func(rc *xbroker.ReceiveContext) error {
		select {
		case bodies <- string(rc.Body()):
		default:
		}
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case b := <-bodies:
		assert.Equal(t, "orphan", b)
	case <-ctx.Done():
		t.Fatal("pending entry was not claimed")
	}
	require.Eventually(t, func() bool {
		p, err := client.XPending(ctx, input, cfg.Group).Result()
		return err == nil && p.Count == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConnection_CleanupIsIdempotent(t *testing.T) {
	_ = redisClient(t)
	conn, err := NewConnection(testConfig())
	require.NoError(t, err)

	require.NoError(t, conn.Cleanup(xbroker.ReplySuccess, "Connection Disposed"))
	require.NoError(t, conn.Cleanup(xbroker.ReplySuccess, "Connection Disposed"))

	_, err = conn.CreateChannel()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnection_HealthCheckRaisesShutdown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	cfg := Defaults()
	cfg.HealthInterval = 10 * time.Millisecond
	conn := newConnection(cfg, client, xbroker.JSONCodec{})
	defer conn.Cleanup(xbroker.ReplySuccess, "done")

	got := make(chan xbroker.ShutdownReason, 1)
	conn.OnShutdown(func(r xbroker.ShutdownReason) { got <- r })

	select {
	case r := <-got:
		assert.Equal(t, xbroker.ReplyConnectionForced, r.Code)
		assert.Equal(t, unreachableText, r.Text)
		assert.Error(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no shutdown raised")
	}
}
