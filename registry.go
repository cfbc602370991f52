package xbroker

import (
	"errors"
	"fmt"
	"sync"
)

// ConnectorFactory opens a native backend connection from a config blob.
// The host's HostConfig keys are merged into cfg before the call.
type ConnectorFactory func(cfg map[string]any) (Connection, Filter, error)

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	connectorRegistryMu sync.RWMutex
	connectorRegistry   = map[string]ConnectorFactory{}

	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json":    func() Codec { return JSONCodec{} },
		"msgpack": func() Codec { return MsgpackCodec{} },
	}
)

// RegisterConnector registers a backend adapter under name.
func RegisterConnector(name string, factory ConnectorFactory) error {
	if name == "" {
		return errors.New("connector name must not be empty")
	}
	if factory == nil {
		return errors.New("connector factory must not be nil")
	}
	connectorRegistryMu.Lock()
	connectorRegistry[name] = factory
	connectorRegistryMu.Unlock()
	return nil
}

// NewConnection opens a connection through the connector registered as name.
// It also returns the connector's host topology filter.
func NewConnection(name string, cfg map[string]any) (Connection, Filter, error) {
	connectorRegistryMu.RLock()
	f, ok := connectorRegistry[name]
	connectorRegistryMu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownConnector{name: name}
	}
	return f(cfg)
}

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}
