package xbroker

import "sync"

// PayloadKey identifies a capability attached to a ReceiveContext.
// Keys compare by identity, so declare each one once as a package-level var.
type PayloadKey[T any] struct {
	name string
}

// NewPayloadKey returns a key for payloads of type T.
func NewPayloadKey[T any](name string) *PayloadKey[T] {
	return &PayloadKey[T]{name: name}
}

func (k *PayloadKey[T]) String() string { return k.name }

var (
	// ClientContextKey carries the backend handle able to build and send requests.
	ClientContextKey = NewPayloadKey[ClientContext]("client-context")

	// MessageAttributesKey carries the backend-level attributes of the inbound message.
	MessageAttributesKey = NewPayloadKey[Headers]("message-attributes")
)

// payloads is a small registry of values keyed by *PayloadKey[T].
type payloads struct {
	mu     sync.RWMutex
	values map[any]any
}

func (p *payloads) set(key, value any) {
	p.mu.Lock()
	if p.values == nil {
		p.values = make(map[any]any, 2)
	}
	p.values[key] = value
	p.mu.Unlock()
}

func (p *payloads) get(key any) (any, bool) {
	p.mu.RLock()
	v, ok := p.values[key]
	p.mu.RUnlock()
	return v, ok
}

// SetPayload attaches value under key, replacing any previous value.
func SetPayload[T any](rc *ReceiveContext, key *PayloadKey[T], value T) {
	rc.payloads.set(key, value)
}

// PayloadOf looks up the payload stored under key.
func PayloadOf[T any](rc *ReceiveContext, key *PayloadKey[T]) (T, bool) {
	var zero T
	if rc == nil || key == nil {
		return zero, false
	}
	v, ok := rc.payloads.get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
