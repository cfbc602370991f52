package xbroker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks contract violations detected before any network effect.
	ErrInvalidArgument = errors.New("xbroker: invalid argument")

	// ErrMissingClientContext is returned by Move when the receive carries no client context.
	ErrMissingClientContext = fmt.Errorf("%w: the receive context must contain a client context", ErrInvalidArgument)

	// ErrConnectionClosed is returned for channel creation on a closing or closed connection.
	ErrConnectionClosed = errors.New("xbroker: connection closed")

	ErrNoConnectorConfigured       = errors.New("xbroker: no connector configured")
	ErrHostClosed                  = errors.New("xbroker: host closed")
	ErrObserverPoolShutdownTimeout = errors.New("xbroker: observer pool shutdown timeout")
)

type ErrUnknownConnector struct{ name string }

func (e ErrUnknownConnector) Error() string { return fmt.Sprintf("unknown connector: %s", e.name) }
