package xbroker

// AuditTransport copies received messages to an audit destination. Body and
// forwarded headers are unchanged; the copy gains a source-address header.
type AuditTransport struct {
	move *MoveTransport
}

func NewAuditTransport(move *MoveTransport) *AuditTransport {
	return &AuditTransport{move: move}
}

// Send copies rc to the audit destination, recording where it came from.
func (t *AuditTransport) Send(rc *ReceiveContext) error {
	return t.move.Move(rc, func(req *OutboundRequest, headers Headers) {
		if addr := rc.InputAddress(); addr != "" {
			headers[HeaderSourceAddress] = addr
		}
	})
}
