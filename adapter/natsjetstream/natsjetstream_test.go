package natsjetstream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xbroker"
)

// testConfig points at NATS_URL (default nats://127.0.0.1:4222) with a
// per-test stream.
func testConfig(t *testing.T) Config {
	cfg := Defaults()
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
	suffix := uuid.NewString()[:8]
	cfg.Stream = "XBROKER_TEST_" + suffix
	cfg.Subjects = []string{"xbtest." + suffix + ".>"}
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.MaxReconnects = 0
	return cfg
}

func connect(t *testing.T, cfg Config) *Connection {
	conn, err := NewConnection(cfg)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Cleanup(xbroker.ReplySuccess, "done")
		nc, err := nats.Connect(cfg.URL)
		if err != nil {
			return
		}
		defer nc.Close()
		if js, err := nc.JetStream(); err == nil {
			_ = js.DeleteStream(cfg.Stream)
		}
	})
	return conn
}

func TestToMsg_HeadersAndDedupID(t *testing.T) {
	req := xbroker.NewOutboundRequest("req-1", "orders.error", []byte("body"), time.Now())
	req.Headers["priority"] = "5"
	req.Headers[xbroker.HeaderReason] = xbroker.ReasonFault
	req.Headers.SetTimeToLive(time.Hour)

	msg, err := toMsg(req)
	require.NoError(t, err)
	assert.Equal(t, "orders.error", msg.Subject)
	assert.Equal(t, []byte("body"), msg.Data)
	assert.Equal(t, "5", msg.Header.Get("priority"))
	assert.Equal(t, "fault", msg.Header.Get(xbroker.HeaderReason))
	assert.Equal(t, "1h0m0s", msg.Header.Get(xbroker.HeaderTimeToLive))
	assert.Equal(t, "req-1", msg.Header.Get(nats.MsgIdHdr))

	h := headersOf(msg)
	assert.NotContains(t, h, nats.MsgIdHdr)
	assert.Equal(t, "5", h["priority"])
	ttl, ok := h.TimeToLive()
	require.True(t, ok)
	assert.Equal(t, time.Hour, ttl)
}

func TestConfigFromMap(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"url":       "nats://10.0.0.2:4222",
		"subjects":  []any{"orders.>", ""},
		"ack_wait":  "5s",
		"replicas":  float64(3),
		"retention": "workqueue",
	})
	assert.Equal(t, "nats://10.0.0.2:4222", c.URL)
	assert.Equal(t, []string{"orders.>"}, c.Subjects)
	assert.Equal(t, 5*time.Second, c.AckWait)
	assert.Equal(t, 3, c.Replicas)
	assert.Equal(t, "XBROKER", c.Stream)
	assert.Equal(t, nats.WorkQueuePolicy, c.streamConfig().Retention)
	assert.NoError(t, c.Validate())

	assert.Equal(t, c, ConfigFromMap(c.toMap()))

	c.Subjects = nil
	assert.Error(t, c.Validate())
}

func TestMove_PublishesToStream(t *testing.T) {
	cfg := testConfig(t)
	conn := connect(t, cfg)
	cc := xbroker.NewConnectionContext(context.Background(), conn, xbroker.HostConfig{HostAddress: cfg.URL, StopTimeout: time.Second}, StreamTopology(cfg))
	defer cc.Close(context.Background())

	mc, err := cc.CreateModelContext(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	subject := cfg.Subjects[0][:len(cfg.Subjects[0])-1] + "error"
	rc := xbroker.NewReceiveContext(context.Background(), "orders", []byte("body"), time.Now())
	require.True(t, mc.Attach(rc))
	xbroker.SetPayload(rc, xbroker.MessageAttributesKey, xbroker.Headers{"MT-Host": "x", "priority": "5"})

	require.NoError(t, xbroker.NewMoveTransport(subject, cc.Topology()).Move(rc, nil))
	require.NoError(t, rc.Wait(context.Background()))

	js, err := conn.Conn().JetStream()
	require.NoError(t, err)
	raw, err := js.GetLastMsg(cfg.Stream, subject)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), raw.Data)
	assert.Equal(t, "5", raw.Header.Get("priority"))
	assert.Empty(t, raw.Header.Get("MT-Host"))
}

func TestSubscribe_AcksAfterMove(t *testing.T) {
	cfg := testConfig(t)
	conn := connect(t, cfg)
	cc := xbroker.NewConnectionContext(context.Background(), conn, xbroker.HostConfig{HostAddress: cfg.URL, StopTimeout: time.Second}, StreamTopology(cfg))
	defer cc.Close(context.Background())

	base := cfg.Subjects[0][:len(cfg.Subjects[0])-1]
	input, errSubject := base+"orders", base+"orders_error"

	errTransport := xbroker.NewErrorTransport(xbroker.NewMoveTransport(errSubject, cc.Topology()), time.Hour)
	handled := make(chan string, 2)
	sub, err := Subscribe(context.Background(), cc, input, "orders", func(rc *xbroker.ReceiveContext) error {
		handled <- string(rc.Body())
		if string(rc.Body()) == "bad" {
			return assert.AnError
		}
		return nil
	}, WithErrorTransport(errTransport))
	require.NoError(t, err)
	defer sub.Close()

	js, err := conn.Conn().JetStream()
	require.NoError(t, err)
	_, err = js.Publish(input, []byte("bad"))
	require.NoError(t, err)

	select {
	case body := <-handled:
		assert.Equal(t, "bad", body)
	case <-time.After(5 * time.Second):
		t.Fatal("message not handled")
	}

	require.Eventually(t, func() bool {
		m, err := js.GetLastMsg(cfg.Stream, errSubject)
		return err == nil && string(m.Data) == "bad" && m.Header.Get(xbroker.HeaderReason) == xbroker.ReasonFault
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnection_CleanupClosesWithoutShutdown(t *testing.T) {
	cfg := testConfig(t)
	conn, err := NewConnection(cfg)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	fired := make(chan struct{}, 1)
	conn.OnShutdown(func(xbroker.ShutdownReason) { fired <- struct{}{} })

	require.NoError(t, conn.Cleanup(xbroker.ReplySuccess, "Connection Disposed"))
	require.NoError(t, conn.Cleanup(xbroker.ReplySuccess, "Connection Disposed"))
	assert.True(t, conn.Conn().IsClosed())

	_, err = conn.CreateChannel()
	assert.ErrorIs(t, err, ErrConnectionClosed)

	select {
	case <-fired:
		t.Fatal("disposal must not raise a broker shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}
