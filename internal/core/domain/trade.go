package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PublishTakerFee brings an Undefined trade to the TakerFeePublished status.
func (t *Trade) PublishTakerFee(txId string) (bool, error) {
	if t.Status.Code >= TradeStatusCodeTakerFeePublished {
		return true, nil
	}

	t.TakerFeeTxId = txId
	t.TradeDate = time.Now().Unix()
	t.Status.Code = TradeStatusCodeTakerFeePublished
	return true, nil
}

// PublishDeposit brings a trade from the TakerFeePublished to the
// DepositPublished status, storing the broadcast deposit transaction.
func (t *Trade) PublishDeposit(txId string, tx []byte) (bool, error) {
	if t.Status.Code >= TradeStatusCodeDepositPublished {
		return true, nil
	}

	if t.Status.Code != TradeStatusCodeTakerFeePublished {
		return false, ErrTradeMustBeTakerFeePublished
	}

	t.DepositTxId = txId
	t.DepositTx = tx
	t.Status.Code = TradeStatusCodeDepositPublished
	return true, nil
}

// FiatSent marks that the buyer has started the counter currency transfer.
func (t *Trade) FiatSent() (bool, error) {
	if t.Status.Code >= TradeStatusCodeFiatSent {
		return true, nil
	}

	if t.Status.Code != TradeStatusCodeDepositPublished {
		return false, ErrTradeMustBeDepositPublished
	}

	t.Status.Code = TradeStatusCodeFiatSent
	return true, nil
}

// FiatReceived marks that the seller has confirmed the counter currency
// transfer arrived.
func (t *Trade) FiatReceived() (bool, error) {
	if t.IsDisputed() {
		return false, ErrTradeAlreadyDisputed
	}
	if t.Status.Code >= TradeStatusCodeFiatReceived {
		return true, nil
	}

	if t.Status.Code != TradeStatusCodeFiatSent {
		return false, ErrTradeMustBeFiatSent
	}

	t.Status.Code = TradeStatusCodeFiatReceived
	return true, nil
}

// PublishPayout brings a trade to the PayoutPublished status, storing the
// broadcast payout transaction.
func (t *Trade) PublishPayout(txId string, tx []byte) (bool, error) {
	// A disputed trade transitions here too: the resolver's signed payout
	// closes the dispute.
	if t.Status.Code >= TradeStatusCodePayoutPublished && !t.IsDisputed() {
		return true, nil
	}

	if t.Status.Code < TradeStatusCodeDepositPublished {
		return false, ErrTradeMustBeDepositPublished
	}

	t.PayoutTxId = txId
	t.PayoutTx = tx
	t.Status.Code = TradeStatusCodePayoutPublished
	return true, nil
}

// OpenDispute brings the trade to the Disputed status and records the
// resolver handling it.
func (t *Trade) OpenDispute(resolverAddress string) (bool, error) {
	if t.IsDisputed() {
		return true, nil
	}

	if t.IsCompleted() {
		return false, ErrTradeCompleted
	}

	t.MediatorAddress = resolverAddress
	t.Status.Code = TradeStatusCodeDisputed
	return true, nil
}

// Complete brings the trade to its terminal Completed status and records the
// settlement timestamp (a blocktime).
func (t *Trade) Complete(settlementTime int64) (bool, error) {
	if t.IsCompleted() {
		return true, nil
	}

	t.SettlementTime = settlementTime
	t.Status.Code = TradeStatusCodeCompleted
	return true, nil
}

// Fail marks the trade as failed with the given reason. Only the first
// failure is recorded.
func (t *Trade) Fail(reason string) {
	if t.Status.Failed {
		return
	}

	t.FailureReason = reason
	t.Status.Failed = true
}

// SetCancelState moves the cancellation sub-state machine. Transitions are
// monotonic within one request round: an outcome state is never downgraded
// back to Idle.
func (t *Trade) SetCancelState(code int) {
	if code == CancelStateIdle && t.CancelState.Code != CancelStateIdle {
		return
	}
	t.CancelState.Code = code
}

// IsEmpty returns whether the trade has not been started yet.
func (t *Trade) IsEmpty() bool {
	return t.Status.Code == TradeStatusCodeUndefined
}

// IsDepositPublished returns whether the deposit tx has been broadcast.
func (t *Trade) IsDepositPublished() bool {
	return t.Status.Code >= TradeStatusCodeDepositPublished
}

// IsFiatSent returns whether the buyer declared the fiat payment started.
func (t *Trade) IsFiatSent() bool {
	return t.Status.Code >= TradeStatusCodeFiatSent
}

// IsPayoutPublished returns whether the payout tx has been broadcast.
func (t *Trade) IsPayoutPublished() bool {
	return t.Status.Code >= TradeStatusCodePayoutPublished
}

// IsDisputed returns whether a dispute has been opened for the trade.
func (t *Trade) IsDisputed() bool {
	return t.Status.Code == TradeStatusCodeDisputed
}

// IsCompleted returns whether the trade reached its terminal status.
func (t *Trade) IsCompleted() bool {
	return t.Status.Code == TradeStatusCodeCompleted
}

// IsFailed returns whether the trade has failed.
func (t *Trade) IsFailed() bool {
	return t.Status.Failed
}

// HasPayoutTx returns whether the payout transaction has been produced.
func (t *Trade) HasPayoutTx() bool {
	return len(t.PayoutTx) > 0
}

// Price returns the trade price as a decimal, converted from its int64
// representation.
func (t *Trade) Price() decimal.Decimal {
	return decimal.New(t.TradePrice, -PricePrecision)
}
