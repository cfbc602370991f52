package xbroker

import "time"

// DeadLetterTransport moves messages nobody consumed (or that were rejected)
// to a dead-letter destination.
type DeadLetterTransport struct {
	move *MoveTransport
	ttl  time.Duration
}

func NewDeadLetterTransport(move *MoveTransport, ttl time.Duration) *DeadLetterTransport {
	if ttl <= 0 {
		ttl = DefaultMessageTimeToLive
	}
	return &DeadLetterTransport{move: move, ttl: ttl}
}

// Send moves rc to the dead-letter destination. reason defaults to "dead-letter".
func (t *DeadLetterTransport) Send(rc *ReceiveContext, reason string) error {
	if reason == "" {
		reason = ReasonDeadLetter
	}
	return t.move.Move(rc, func(req *OutboundRequest, headers Headers) {
		headers[HeaderReason] = reason
		headers.SetTimeToLive(t.ttl)
	})
}
