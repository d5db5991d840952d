package domain

const (
	// TradeStatusCodeUndefined is the status of a trade that has just been
	// created and not yet started.
	TradeStatusCodeUndefined = iota
	// TradeStatusCodeTakerFeePublished marks that the taker fee transaction
	// has been broadcast.
	TradeStatusCodeTakerFeePublished
	// TradeStatusCodeDepositPublished marks that the co-signed deposit
	// transaction has been broadcast.
	TradeStatusCodeDepositPublished
	// TradeStatusCodeFiatSent marks that the buyer declared the counter
	// currency payment as started.
	TradeStatusCodeFiatSent
	// TradeStatusCodeFiatReceived marks that the seller confirmed receiving
	// the counter currency payment.
	TradeStatusCodeFiatReceived
	// TradeStatusCodePayoutPublished marks that the payout transaction has
	// been broadcast.
	TradeStatusCodePayoutPublished
	// TradeStatusCodeDisputed marks that a dispute resolver has been invoked.
	TradeStatusCodeDisputed
	// TradeStatusCodeCompleted is the terminal status of a settled trade.
	TradeStatusCodeCompleted
)

// Cancel sub-state machine. A cancellation is requested by the buyer and
// either accepted or rejected by the seller, with the delivery outcome of
// every cancel message tracked separately so that the audit trail reflects
// the delivery status even without the peer's confirmation.
const (
	CancelStateIdle = iota
	CancelStateRequestSent
	CancelStateRequestArrived
	CancelStateRequestInMailbox
	CancelStateRequestSendFailed
	CancelStateRequestReceived
	CancelStateAcceptedMsgSent
	CancelStateAcceptedMsgArrived
	CancelStateAcceptedMsgInMailbox
	CancelStateAcceptedMsgSendFailed
	CancelStateRejectedMsgSent
	CancelStateRejectedMsgArrived
	CancelStateRejectedMsgInMailbox
	CancelStateRejectedMsgSendFailed
	CancelStateReceivedAccepted
	CancelStateReceivedRejected
)

// Keys of the legacy trade statistics extra-data map. Only the first 4
// characters of a resolver address were recorded there.
const (
	MediatorAddressKey    = "mediatorAddress"
	ArbitratorAddressKey  = "arbitratorAddress"
	RefundAgentAddressKey = "refundAgentAddress"

	// ResolverAddressPrefixLen is the number of leading characters of a
	// resolver address stored in trade statistics.
	ResolverAddressPrefixLen = 4
)

// PricePrecision is the number of decimal digits trade prices are expressed
// with when converted from their int64 wire representation.
const PricePrecision = 8
