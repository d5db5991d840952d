package domain

import (
	"github.com/google/uuid"
)

// TradeStatus represents the different statuses that a trade can assume.
type TradeStatus struct {
	Code   int
	Failed bool
}

// CancelState tracks the cancellation sub-state machine of a trade,
// independent of its main status.
type CancelState struct {
	Code int
}

// Trade is the data structure representing one peer-to-peer trade execution.
// It is created when an offer is taken and afterwards mutated only by tasks
// of its own protocol instance, never by two task runners at once.
type Trade struct {
	Id                string
	OfferId           string
	PeerAddress       string
	PeerPubKey        []byte
	Status            TradeStatus
	CancelState       CancelState
	FailureReason     string
	CurrencyCode      string
	PaymentMethod     string
	TradePrice        int64
	TradeAmount       int64
	TakerFeeTxId      string
	DepositTxId       string
	DepositTx         []byte
	PayoutTxId        string
	PayoutTx          []byte
	MediatorAddress   string
	ArbitratorAddress string
	TradeDate         int64
	SettlementTime    int64
	AtomicSwap        bool
}

// NewTrade returns a trade with a new id and Undefined status.
func NewTrade(offerId string) *Trade {
	return &Trade{
		Id:          uuid.New().String(),
		OfferId:     offerId,
		Status:      TradeStatus{Code: TradeStatusCodeUndefined},
		CancelState: CancelState{Code: CancelStateIdle},
	}
}
