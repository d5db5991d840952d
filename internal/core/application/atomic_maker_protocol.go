package application

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// atomicMakerProtocol drives the escrow-free variant on the maker side. The
// taker sends signed input material for both legs of the swap in a single
// message, the maker verifies it, assembles and co-signs the combined
// transaction and watches its receive address for the on-chain confirmation
// that settles the trade. There is no dispute path in this mode: a failed
// verification aborts the trade before any funds move.
type atomicMakerProtocol struct {
	*tradeProtocol

	makerBtcAddress string
	makerBsqAddress string
	makerIsBtcBuyer bool
	removeMailbox   func(uid string)
}

// NewAtomicMakerProtocol returns the protocol variant for the maker of an
// atomic swap offer. The two receive addresses belong to the maker's wallet;
// which one is watched depends on the asset the maker is due.
func NewAtomicMakerProtocol(
	trade *domain.Trade,
	tradeRepo domain.TradeRepository,
	transport ports.Transport,
	wallet ports.WalletService,
	makerBtcAddress, makerBsqAddress string,
	makerIsBtcBuyer bool,
	removeMailbox func(uid string),
) TradeProtocol {
	trade.AtomicSwap = true
	return &atomicMakerProtocol{
		tradeProtocol:   newTradeProtocol(trade, tradeRepo, transport, wallet),
		makerBtcAddress: makerBtcAddress,
		makerBsqAddress: makerBsqAddress,
		makerIsBtcBuyer: makerIsBtcBuyer,
		removeMailbox:   removeMailbox,
	}
}

func (p *atomicMakerProtocol) HandleMessage(
	msg domain.TradeMessage, senderAddress string, fromMailbox bool,
) {
	switch m := msg.(type) {
	case *domain.CreateAtomicTxRequest:
		p.receive(m, senderAddress, fromMailbox, p.handleCreateAtomicTxRequest)
	default:
		log.WithField("trade", p.trade.Id).Warnf(
			"atomic maker protocol dropping unhandled %s message", msg.Route(),
		)
	}
}

func (p *atomicMakerProtocol) handleCreateAtomicTxRequest() {
	// A repeated request with a fresh uid must not build and broadcast a
	// second swap tx.
	if p.trade.IsDepositPublished() {
		log.WithField("trade", p.trade.Id).Info(
			"swap tx already broadcast, ignoring repeated atomic tx request",
		)
		p.runnerDone()
		return
	}
	p.startTasks("createAtomicTxRequest", []Task{
		p.processCreateAtomicTxRequestTask(),
		p.verifyTakerInputsTask(),
		p.createAndSignAtomicTxTask(),
		p.setupTxListenerTask(),
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

// processCreateAtomicTxRequestTask checks the request is well formed and
// copies the taker material into the process model.
func (p *atomicMakerProtocol) processCreateAtomicTxRequestTask() Task {
	return Task{Name: "processCreateAtomicTxRequest", Run: func(h *TaskHandler) {
		msg, ok := p.processModel.TradeMessage.(*domain.CreateAtomicTxRequest)
		if !ok || msg == nil {
			h.Failed(domain.ErrNullPayload)
			return
		}
		if msg.BsqTradeAmount <= 0 || msg.BtcTradeAmount <= 0 || msg.TradePrice <= 0 {
			h.Failed(domain.ErrInvalidPayload)
			return
		}
		if msg.TakerBsqOutputAddress == "" || msg.TakerBtcOutputAddress == "" {
			h.Failed(domain.ErrInvalidPayload)
			return
		}
		if len(msg.TakerBsqInputs) == 0 || len(msg.TakerBtcInputs) == 0 {
			h.Failed(domain.ErrInvalidPayload)
			return
		}
		for _, in := range append(
			append([]domain.RawInput{}, msg.TakerBsqInputs...), msg.TakerBtcInputs...,
		) {
			if len(in.ParentTransaction) == 0 || in.Value <= 0 {
				h.Failed(domain.ErrInvalidPayload)
				return
			}
		}

		p.processModel.AtomicBsqInputs = msg.TakerBsqInputs
		p.processModel.AtomicBtcInputs = msg.TakerBtcInputs
		p.updateTrade(func(t *domain.Trade) {
			t.TradePrice = msg.TradePrice
			t.TradeAmount = msg.BtcTradeAmount
		})
		h.Complete()
	}}
}

// verifyTakerInputsTask checks the taker inputs cover the declared outputs
// and fees on both legs before the maker commits any of its own funds.
func (p *atomicMakerProtocol) verifyTakerInputsTask() Task {
	return Task{Name: "verifyTakerInputs", Run: func(h *TaskHandler) {
		msg := p.processModel.TradeMessage.(*domain.CreateAtomicTxRequest)

		var bsqIn, btcIn int64
		for _, in := range msg.TakerBsqInputs {
			bsqIn += in.Value
		}
		for _, in := range msg.TakerBtcInputs {
			btcIn += in.Value
		}

		bsqRequired := msg.TakerBsqOutputValue
		btcRequired := msg.TakerBtcOutputValue + msg.TxFee
		if msg.IsCurrencyForTakerFeeBtc {
			btcRequired += msg.TakerFee
		} else {
			bsqRequired += msg.TakerFee
		}

		if bsqIn < bsqRequired || btcIn < btcRequired {
			log.WithField("trade", p.trade.Id).Warnf(
				"taker inputs insufficient: bsq %d/%d, btc %d/%d",
				bsqIn, bsqRequired, btcIn, btcRequired,
			)
			h.Failed(ErrInsufficientTakerInputs)
			return
		}
		h.Complete()
	}}
}

// createAndSignAtomicTxTask assembles the combined transaction from the
// taker's inputs plus the maker's own, signs the maker side and broadcasts.
func (p *atomicMakerProtocol) createAndSignAtomicTxTask() Task {
	return Task{Name: "createAndSignAtomicTx", Run: func(h *TaskHandler) {
		ctx := context.Background()
		msg := p.processModel.TradeMessage.(*domain.CreateAtomicTxRequest)

		makerInputs, err := p.wallet.SelectInputs(ctx, msg.BtcTradeAmount)
		if err != nil {
			h.Failed(err)
			return
		}

		inputs := append(append([]domain.RawInput{}, p.processModel.AtomicBsqInputs...),
			p.processModel.AtomicBtcInputs...)
		inputs = append(inputs, makerInputs...)
		outputs := []domain.TxOutput{
			{Value: msg.TakerBsqOutputValue, Address: msg.TakerBsqOutputAddress},
			{Value: msg.TakerBtcOutputValue, Address: msg.TakerBtcOutputAddress},
			{Value: msg.BsqTradeAmount, Address: p.makerBsqAddress},
			{Value: msg.BtcTradeAmount, Address: p.makerBtcAddress},
		}

		tx, err := p.wallet.BuildTransaction(ctx, inputs, outputs)
		if err != nil {
			h.Failed(err)
			return
		}
		signed, err := p.wallet.SignTransaction(ctx, tx)
		if err != nil {
			h.Failed(err)
			return
		}
		txId, err := p.wallet.BroadcastTransaction(ctx, signed)
		if err != nil {
			h.Failed(err)
			return
		}

		p.processModel.AtomicTx = signed
		p.updateTrade(func(t *domain.Trade) {
			t.PublishTakerFee(txId)
			t.PublishDeposit(txId, signed)
		})
		h.Complete()
	}}
}

// setupTxListenerTask watches the receive address for the asset the maker is
// due. The trade completes once the swap transaction is observed confirmed;
// until then it stays in the published state.
func (p *atomicMakerProtocol) setupTxListenerTask() Task {
	return Task{Name: "setupTxListener", Run: func(h *TaskHandler) {
		address := p.makerBsqAddress
		if p.makerIsBtcBuyer {
			address = p.makerBtcAddress
		}
		if address == "" {
			h.Failed(ErrNoMakerReceiveAddress)
			return
		}
		p.processModel.ListenAddress = address

		err := p.wallet.ListenToAddress(
			context.Background(), address, func(txId string) {
				p.onSwapTxConfirmed(txId)
			},
		)
		if err != nil {
			h.Failed(err)
			return
		}
		h.Complete()
	}}
}

// onSwapTxConfirmed fires from the wallet listener, possibly long after the
// task list finished, and therefore goes through the per-trade queue again.
func (p *atomicMakerProtocol) onSwapTxConfirmed(txId string) {
	log.WithField("trade", p.trade.Id).Infof("swap tx %s confirmed on chain", txId)
	p.enqueue(func() {
		p.updateTrade(func(t *domain.Trade) {
			t.PublishPayout(txId, p.processModel.AtomicTx)
			t.Complete(time.Now().Unix())
		})
		p.runnerDone()
	})
}
