package xbroker

import "time"

// OutboundRequest is a message addressed to a new destination.
// It is owned by the Move call that built it until handed to Send.
type OutboundRequest struct {
	// ID is assigned by the backend when the request is built.
	ID string
	// Destination is the queue, stream or subject the request is sent to.
	Destination string
	// Body is a private copy of the inbound body.
	Body []byte
	// Headers start as the forwarded inbound headers and are then customized.
	Headers Headers
	// CreatedAt is stamped by the backend from its clock.
	CreatedAt time.Time
}

// NewOutboundRequest copies body so the request never aliases the inbound buffer.
func NewOutboundRequest(id, destination string, body []byte, createdAt time.Time) *OutboundRequest {
	b := make([]byte, len(body))
	copy(b, body)
	return &OutboundRequest{
		ID:          id,
		Destination: destination,
		Body:        b,
		Headers:     make(Headers),
		CreatedAt:   createdAt,
	}
}
