package xbroker

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/trickstertwo/xclock"
)

// DefaultMessageTimeToLive bounds how long error and dead-letter copies are kept.
const DefaultMessageTimeToLive = 14 * 24 * time.Hour

// Reasons stamped into HeaderReason.
const (
	ReasonFault      = "fault"
	ReasonDeadLetter = "dead-letter"
)

// ErrorTransport moves faulted messages to an error destination, stamping
// fault diagnostics onto the copy.
type ErrorTransport struct {
	move  *MoveTransport
	clock xclock.Clock
	ttl   time.Duration
}

// NewErrorTransport wraps move. A non-positive ttl selects DefaultMessageTimeToLive.
func NewErrorTransport(move *MoveTransport, ttl time.Duration) *ErrorTransport {
	if ttl <= 0 {
		ttl = DefaultMessageTimeToLive
	}
	return &ErrorTransport{move: move, clock: move.clock, ttl: ttl}
}

// Send moves rc to the error destination with fault headers describing cause.
func (t *ErrorTransport) Send(rc *ReceiveContext, cause error) error {
	return t.move.Move(rc, func(req *OutboundRequest, headers Headers) {
		SetFaultHeaders(headers, cause, t.clock.Now())
		headers.SetTimeToLive(t.ttl)
	})
}

// SetFaultHeaders stamps diagnostics for cause onto headers.
func SetFaultHeaders(headers Headers, cause error, at time.Time) {
	headers[HeaderReason] = ReasonFault
	headers[HeaderFaultTimestamp] = at.UTC().Format(time.RFC3339Nano)
	if cause != nil {
		headers[HeaderFaultExceptionType] = faultType(cause)
		headers[HeaderFaultMessage] = cause.Error()
	}
	setHostHeaders(headers)
}

// faultType names the innermost wrapped error type.
func faultType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

func setHostHeaders(headers Headers) {
	if host, err := os.Hostname(); err == nil && host != "" {
		headers[HeaderHostMachineName] = host
	}
	headers[HeaderHostProcessID] = strconv.Itoa(os.Getpid())
}
