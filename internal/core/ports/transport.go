package ports

import "context"

// SendOutcome is the terminal delivery status of one outbound message.
type SendOutcome int

const (
	// SendOutcomeArrived means the peer acknowledged direct delivery.
	SendOutcomeArrived SendOutcome = iota
	// SendOutcomeStoredInMailbox means direct delivery failed and the
	// message was durably stored for later pickup.
	SendOutcomeStoredInMailbox
	// SendOutcomeFailed means neither direct delivery nor the mailbox
	// fallback succeeded.
	SendOutcomeFailed
)

func (o SendOutcome) String() string {
	switch o {
	case SendOutcomeArrived:
		return "arrived"
	case SendOutcomeStoredInMailbox:
		return "stored-in-mailbox"
	default:
		return "send-failed"
	}
}

// MessageHandler consumes an inbound raw message. fromMailbox is true when
// the message was picked up from the mailbox store rather than delivered
// live.
type MessageHandler func(raw []byte, senderAddress string, fromMailbox bool)

// Transport is the peer-to-peer message delivery collaborator. Direct
// delivery is best effort; when the peer is unreachable the message falls
// back to its mailbox.
type Transport interface {
	Send(ctx context.Context, peerAddress string, raw []byte) (SendOutcome, error)
	RegisterHandler(handler MessageHandler)
	MyAddress() string
}
