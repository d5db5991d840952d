package domain

import "bytes"

// AppendOnlyPayload is replicated data identified by its content hash and
// never mutated after admission.
type AppendOnlyPayload interface {
	Hash() []byte
	IsValid() bool
}

// ProtectedPayload is replicated data whose owner can prove ownership to
// update or remove it.
type ProtectedPayload interface {
	Hash() []byte
	OwnerPubKey() []byte
}

// ProtectedStorageEntry wraps a protected payload together with its
// ownership proof and a monotonic sequence number guarding against replayed
// updates.
type ProtectedStorageEntry struct {
	Payload        ProtectedPayload
	OwnerPubKey    []byte
	SequenceNumber int
	CreationTime   int64
}

// VerifyOwnership checks that the entry's owner key matches the one declared
// by the payload itself.
func (e *ProtectedStorageEntry) VerifyOwnership() error {
	if e.Payload == nil {
		return ErrNullPayload
	}
	if !bytes.Equal(e.OwnerPubKey, e.Payload.OwnerPubKey()) {
		return ErrOwnershipProof
	}
	return nil
}

// MailboxPayload is a protected payload holding a serialized trade message
// durably stored for a peer that was unreachable at send time. The recipient
// proves ownership with its own public key to remove it after pickup.
type MailboxPayload struct {
	RecipientAddress string
	RecipientPubKey  []byte
	SenderAddress    string
	Message          []byte
}

// Hash identifies the mailbox entry by its stored message content.
func (p *MailboxPayload) Hash() []byte {
	h := newStatsHasher()
	h.writeString(p.RecipientAddress)
	h.buf = append(h.buf, p.Message...)
	return h.sum()
}

// OwnerPubKey implements ProtectedPayload. The recipient owns the entry.
func (p *MailboxPayload) OwnerPubKey() []byte {
	return p.RecipientPubKey
}
