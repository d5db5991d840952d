package domain

// ProcessModel is the transient per-trade scratch space shared by the tasks
// of one protocol instance. It is owned by exactly one trade and is not part
// of the persisted trade history beyond what tasks explicitly copy into the
// Trade itself.
type ProcessModel struct {
	TradeMessage    TradeMessage
	TempPeerAddress string
	MyAddress       string
	OfferId         string

	TakerFeeInputs  []RawInput
	DepositInputs   []RawInput
	PeerInputs      []RawInput
	AtomicBsqInputs []RawInput
	AtomicBtcInputs []RawInput

	PreparedDepositTx []byte
	AtomicTx          []byte
	ListenAddress     string

	processedUids map[string]struct{}
	mailboxUids   map[string]struct{}
}

// NewProcessModel returns a process model bound to the given offer.
func NewProcessModel(offerId, myAddress string) *ProcessModel {
	return &ProcessModel{
		OfferId:       offerId,
		MyAddress:     myAddress,
		processedUids: make(map[string]struct{}),
		mailboxUids:   make(map[string]struct{}),
	}
}

// MarkProcessed records the uid of an applied message and reports whether it
// had been seen before. Callers must skip side effects for already processed
// uids.
func (m *ProcessModel) MarkProcessed(uid string) (seen bool) {
	if _, ok := m.processedUids[uid]; ok {
		return true
	}
	m.processedUids[uid] = struct{}{}
	return false
}

// SetMessage stores the last received message and the sender's current
// address, which may differ from the one seen in earlier rounds.
func (m *ProcessModel) SetMessage(msg TradeMessage, senderAddress string) {
	m.TradeMessage = msg
	if senderAddress != "" {
		m.TempPeerAddress = senderAddress
	}
}

// MarkMailbox flags a uid as having arrived via mailbox so that it can be
// removed from the mailbox store after processing.
func (m *ProcessModel) MarkMailbox(uid string) {
	m.mailboxUids[uid] = struct{}{}
}

// TakeMailbox reports and clears the mailbox flag of a uid.
func (m *ProcessModel) TakeMailbox(uid string) bool {
	if _, ok := m.mailboxUids[uid]; !ok {
		return false
	}
	delete(m.mailboxUids, uid)
	return true
}
