package xbroker

import (
	"fmt"
	"time"
)

// BatchSettings controls publish batching on backends that support it.
type BatchSettings struct {
	Enabled      bool
	MessageLimit int
	SizeLimit    int
	Timeout      time.Duration
}

// HostConfig describes one broker host.
type HostConfig struct {
	// HostAddress is the broker address, e.g. "redis://127.0.0.1:6379".
	HostAddress string
	// Description is a human readable label used in logs and events.
	Description string
	// PublisherConfirmation requests broker acknowledgement of every publish.
	PublisherConfirmation bool
	BatchSettings         BatchSettings
	// StopTimeout bounds how long Close waits for in-flight channel creation.
	StopTimeout time.Duration
}

// DefaultHostConfig returns a HostConfig with production-safe defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		PublisherConfirmation: true,
		BatchSettings: BatchSettings{
			Enabled:      false,
			MessageLimit: 100,
			SizeLimit:    64 * 1024,
			Timeout:      time.Millisecond,
		},
		StopTimeout: 30 * time.Second,
	}
}

// Validate checks the config before a connection is opened.
func (c HostConfig) Validate() error {
	if c.HostAddress == "" {
		return fmt.Errorf("config: host_address required")
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("config: stop_timeout must be > 0, got %v", c.StopTimeout)
	}
	if c.BatchSettings.Enabled && c.BatchSettings.MessageLimit < 1 {
		return fmt.Errorf("config: batch message_limit must be >= 1, got %d", c.BatchSettings.MessageLimit)
	}
	return nil
}

// description falls back to the host address.
func (c HostConfig) description() string {
	if c.Description != "" {
		return c.Description
	}
	return c.HostAddress
}

// HostConfigFromMap converts a generic map into HostConfig, starting from defaults.
func HostConfigFromMap(cfg map[string]any) HostConfig {
	c := DefaultHostConfig()

	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	c.HostAddress = getString("host_address", c.HostAddress)
	c.Description = getString("description", c.Description)
	c.PublisherConfirmation = getBool("publisher_confirmation", c.PublisherConfirmation)
	c.BatchSettings.Enabled = getBool("batch_enabled", c.BatchSettings.Enabled)
	c.BatchSettings.MessageLimit = getInt("batch_message_limit", c.BatchSettings.MessageLimit)
	c.BatchSettings.SizeLimit = getInt("batch_size_limit", c.BatchSettings.SizeLimit)
	c.BatchSettings.Timeout = getDur("batch_timeout", c.BatchSettings.Timeout)
	c.StopTimeout = getDur("stop_timeout", c.StopTimeout)
	return c
}

// toMap converts HostConfig into the generic map form.
func (c HostConfig) toMap() map[string]any {
	return map[string]any{
		"host_address":           c.HostAddress,
		"description":            c.Description,
		"publisher_confirmation": c.PublisherConfirmation,
		"batch_enabled":          c.BatchSettings.Enabled,
		"batch_message_limit":    c.BatchSettings.MessageLimit,
		"batch_size_limit":       c.BatchSettings.SizeLimit,
		"batch_timeout":          c.BatchSettings.Timeout,
		"stop_timeout":           c.StopTimeout,
	}
}
