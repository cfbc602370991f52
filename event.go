package xbroker

import "time"

// EventType enumerates connection lifecycle events for the Observer pattern.
type EventType string

const (
	Connected          EventType = "connected"
	ChannelCreated     EventType = "channel_created"
	ConnectionShutdown EventType = "connection_shutdown"
	Disconnecting      EventType = "disconnecting"
	Disconnected       EventType = "disconnected"
	Error              EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type        EventType
	Description string
	HostAddress string
	Code        int
	Text        string
	Duration    time.Duration
	Err         error

	// Internal: attached for async dispatch
	observers []Observer
}

// Observer receives lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}
