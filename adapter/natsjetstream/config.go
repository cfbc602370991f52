package natsjetstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config configures the JetStream connector.
type Config struct {
	URL  string
	Name string

	// Stream backing every destination subject.
	Stream   string
	Subjects []string

	// Optional stream parameters
	Retention string // workqueue|limits|interest (default limits)
	MaxBytes  int64  // 0 means unset
	Replicas  int    // 0 means server default
	MaxAge    time.Duration

	// Consumer parameters
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int

	ConnectTimeout time.Duration
	MaxReconnects  int
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "xbroker",
		Stream:         "XBROKER",
		Subjects:       []string{"xbroker.>"},
		Retention:      "limits",
		DurablePrefix:  "xbroker-",
		AckWait:        30 * time.Second,
		MaxAckPending:  1024,
		ConnectTimeout: 2 * time.Second,
		MaxReconnects:  60,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if len(c.Subjects) == 0 {
		return fmt.Errorf("config: at least one subject required")
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("config: ack_wait must be > 0, got %v", c.AckWait)
	}
	return nil
}

// streamConfig assembles the JetStream stream definition.
func (c Config) streamConfig() *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(c.Retention) {
	case "workqueue":
		retention = nats.WorkQueuePolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:              c.Stream,
		Subjects:          c.Subjects,
		Retention:         retention,
		MaxMsgsPerSubject: -1,
	}
	if c.MaxBytes > 0 {
		sc.MaxBytes = c.MaxBytes
	}
	if c.Replicas > 0 {
		sc.Replicas = c.Replicas
	}
	if c.MaxAge > 0 {
		sc.MaxAge = c.MaxAge
	}
	return sc
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":             c.URL,
		"name":            c.Name,
		"stream":          c.Stream,
		"subjects":        c.Subjects,
		"retention":       c.Retention,
		"max_bytes":       c.MaxBytes,
		"replicas":        c.Replicas,
		"max_age":         c.MaxAge,
		"durable_prefix":  c.DurablePrefix,
		"ack_wait":        c.AckWait,
		"max_ack_pending": c.MaxAckPending,
		"connect_timeout": c.ConnectTimeout,
		"max_reconnects":  c.MaxReconnects,
	}
}

// ConfigFromMap converts a generic map to Config, starting from Defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getString := func(k string, d string) string {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := m[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		}
		return d
	}

	c.URL = getString("url", c.URL)
	c.Name = getString("name", c.Name)
	c.Stream = getString("stream", c.Stream)
	switch v := m["subjects"].(type) {
	case []string:
		if len(v) > 0 {
			c.Subjects = v
		}
	case []any:
		var subjects []string
		for _, x := range v {
			if s, ok := x.(string); ok && s != "" {
				subjects = append(subjects, s)
			}
		}
		if len(subjects) > 0 {
			c.Subjects = subjects
		}
	}
	c.Retention = getString("retention", c.Retention)
	c.MaxBytes = int64(getInt("max_bytes", int(c.MaxBytes)))
	c.Replicas = getInt("replicas", c.Replicas)
	c.MaxAge = getDur("max_age", c.MaxAge)
	c.DurablePrefix = getString("durable_prefix", c.DurablePrefix)
	c.AckWait = getDur("ack_wait", c.AckWait)
	c.MaxAckPending = getInt("max_ack_pending", c.MaxAckPending)
	c.ConnectTimeout = getDur("connect_timeout", c.ConnectTimeout)
	c.MaxReconnects = getInt("max_reconnects", c.MaxReconnects)
	return c
}
