package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// buyerAsMakerProtocol drives a trade where the local peer buys the asset
// and made the offer that got taken. It answers the taker's deposit input
// request, observes the deposit broadcast and may request a cancellation
// while waiting for the payout.
type buyerAsMakerProtocol struct {
	*tradeProtocol

	responseTimeout time.Duration
	removeMailbox   func(uid string)
}

// NewBuyerAsMakerProtocol returns the protocol variant for a buyer whose
// offer was taken.
func NewBuyerAsMakerProtocol(
	trade *domain.Trade,
	tradeRepo domain.TradeRepository,
	transport ports.Transport,
	wallet ports.WalletService,
	responseTimeout time.Duration,
	removeMailbox func(uid string),
) TradeProtocol {
	return &buyerAsMakerProtocol{
		tradeProtocol:   newTradeProtocol(trade, tradeRepo, transport, wallet),
		responseTimeout: responseTimeout,
		removeMailbox:   removeMailbox,
	}
}

func (p *buyerAsMakerProtocol) HandleMessage(
	msg domain.TradeMessage, senderAddress string, fromMailbox bool,
) {
	switch m := msg.(type) {
	case *domain.InputsForDepositTxRequest:
		p.receive(m, senderAddress, fromMailbox, p.handleInputsForDepositTxRequest)
	case *domain.DepositTxMessage:
		p.receive(m, senderAddress, fromMailbox, p.handleDepositTxMessage)
	case *domain.PayoutTxPublishedMessage:
		p.receive(m, senderAddress, fromMailbox, p.handlePayoutTxPublishedMessage)
	case *domain.CancelTradeRequestAcceptedMessage:
		p.receive(m, senderAddress, fromMailbox, p.handleCancelTradeRequestAccepted)
	case *domain.CancelTradeRequestRejectedMessage:
		p.receive(m, senderAddress, fromMailbox, p.handleCancelTradeRequestRejected)
	default:
		log.WithField("trade", p.trade.Id).Warnf(
			"buyer-as-maker protocol dropping unhandled %s message", msg.Route(),
		)
	}
}

func (p *buyerAsMakerProtocol) handleInputsForDepositTxRequest() {
	// A repeated request with a fresh uid must not prepare and sign a
	// second deposit tx.
	if p.trade.IsDepositPublished() || len(p.processModel.PreparedDepositTx) > 0 {
		log.WithField("trade", p.trade.Id).Info(
			"deposit tx already prepared, ignoring repeated inputs request",
		)
		p.runnerDone()
		return
	}
	p.startTasks("inputsForDepositTxRequest", []Task{
		p.processInputsForDepositTxRequestTask(),
		p.createAndSignPreparedDepositTxTask(),
		p.sendMessageTask("sendInputsForDepositTxResponse",
			func() (domain.MailboxMessage, error) {
				return &domain.InputsForDepositTxResponse{
					MessageMeta:       domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
					SenderAddress:     p.processModel.MyAddress,
					MakerInputs:       p.processModel.DepositInputs,
					PreparedDepositTx: p.processModel.PreparedDepositTx,
				}, nil
			},
			nil, nil, nil, nil,
		),
		p.removeMailboxMessageTask(p.removeMailbox),
	}, func() {
		// The taker must come back with the broadcast deposit tx.
		p.startTimeout(p.responseTimeout)
	})
}

func (p *buyerAsMakerProtocol) handleDepositTxMessage() {
	p.stopTimeout()
	p.startTasks("depositTxMessage", []Task{
		{Name: "processDepositTxMessage", Run: func(h *TaskHandler) {
			msg, ok := p.processModel.TradeMessage.(*domain.DepositTxMessage)
			if !ok || len(msg.DepositTx) == 0 {
				h.Failed(domain.ErrInvalidMessage)
				return
			}
			// The taker fee round happened on the taker side; align the
			// local state machine before recording the deposit.
			p.trade.PublishTakerFee(p.trade.TakerFeeTxId)
			if _, err := p.trade.PublishDeposit("", msg.DepositTx); err != nil {
				h.Failed(err)
				return
			}
			p.persistTrade()
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

// OnFiatPaymentStarted is triggered from the UI once the buyer started the
// fiat payment.
func (p *buyerAsMakerProtocol) OnFiatPaymentStarted(counterCurrencyTxId string) {
	p.enqueue(func() {
		p.startTasks("onFiatPaymentStarted", []Task{
			{Name: "confirmFiatSent", Run: func(h *TaskHandler) {
				if _, err := p.trade.FiatSent(); err != nil {
					h.Failed(err)
					return
				}
				h.Complete()
			}},
			p.sendMessageTask("sendCounterCurrencyTransferStarted",
				func() (domain.MailboxMessage, error) {
					return &domain.CounterCurrencyTransferStartedMessage{
						MessageMeta:         domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
						SenderAddress:       p.processModel.MyAddress,
						CounterCurrencyTxId: counterCurrencyTxId,
					}, nil
				},
				nil, nil, nil, nil,
			),
		}, nil)
	})
}

func (p *buyerAsMakerProtocol) handlePayoutTxPublishedMessage() {
	p.startTasks("payoutTxPublishedMessage", []Task{
		{Name: "processPayoutTxPublishedMessage", Run: func(h *TaskHandler) {
			msg, ok := p.processModel.TradeMessage.(*domain.PayoutTxPublishedMessage)
			if !ok || len(msg.PayoutTx) == 0 {
				h.Failed(domain.ErrInvalidMessage)
				return
			}
			if _, err := p.trade.PublishPayout("", msg.PayoutTx); err != nil {
				h.Failed(err)
				return
			}
			p.trade.Complete(time.Now().Unix())
			p.persistTrade()
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

// OnRequestCancelTrade is triggered from the UI: ask the seller to cancel
// the trade. Each delivery outcome maps onto its own cancel state.
func (p *buyerAsMakerProtocol) OnRequestCancelTrade() {
	p.enqueue(func() {
		p.startTasks("requestCancelTrade", []Task{
			{Name: "checkCancelAllowed", Run: func(h *TaskHandler) {
				if p.trade.IsDisputed() {
					h.Failed(domain.ErrTradeAlreadyDisputed)
					return
				}
				if p.trade.IsPayoutPublished() {
					h.Failed(domain.ErrTradeCompleted)
					return
				}
				h.Complete()
			}},
			p.sendMessageTask("sendCancelTradeRequest",
				func() (domain.MailboxMessage, error) {
					return &domain.CancelTradeRequestMessage{
						MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
						SenderAddress: p.processModel.MyAddress,
					}, nil
				},
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRequestSent) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRequestArrived) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRequestInMailbox) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRequestSendFailed) },
			),
		}, nil)
	})
}

func (p *buyerAsMakerProtocol) handleCancelTradeRequestAccepted() {
	p.startTasks("cancelTradeRequestAccepted", []Task{
		{Name: "processCancelTradeRequestAccepted", Run: func(h *TaskHandler) {
			msg, ok := p.processModel.TradeMessage.(*domain.CancelTradeRequestAcceptedMessage)
			if !ok || len(msg.PayoutTx) == 0 {
				h.Failed(domain.ErrInvalidMessage)
				return
			}
			if p.trade.IsDisputed() {
				h.Failed(domain.ErrTradeAlreadyDisputed)
				return
			}
			p.updateTrade(func(t *domain.Trade) {
				t.PublishPayout("", msg.PayoutTx)
				t.SetCancelState(domain.CancelStateReceivedAccepted)
			})
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

func (p *buyerAsMakerProtocol) handleCancelTradeRequestRejected() {
	p.startTasks("cancelTradeRequestRejected", []Task{
		{Name: "processCancelTradeRequestRejected", Run: func(h *TaskHandler) {
			if p.trade.IsDisputed() {
				h.Failed(domain.ErrTradeAlreadyDisputed)
				return
			}
			p.updateTrade(func(t *domain.Trade) {
				t.SetCancelState(domain.CancelStateReceivedRejected)
			})
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

func (p *buyerAsMakerProtocol) processInputsForDepositTxRequestTask() Task {
	return Task{Name: "processInputsForDepositTxRequest", Run: func(h *TaskHandler) {
		msg, ok := p.processModel.TradeMessage.(*domain.InputsForDepositTxRequest)
		if !ok || msg.TakerFeeTxId == "" || len(msg.TakerInputs) == 0 {
			h.Failed(domain.ErrInvalidMessage)
			return
		}
		p.updateTrade(func(t *domain.Trade) {
			t.TakerFeeTxId = msg.TakerFeeTxId
			t.PeerPubKey = msg.TakerPubKeyRing
		})
		p.processModel.PeerInputs = msg.TakerInputs
		h.Complete()
	}}
}

func (p *buyerAsMakerProtocol) createAndSignPreparedDepositTxTask() Task {
	return Task{Name: "createAndSignPreparedDepositTx", Run: func(h *TaskHandler) {
		ctx := context.Background()
		makerInputs, err := p.wallet.SelectInputs(ctx, p.trade.TradeAmount)
		if err != nil {
			h.Failed(err)
			return
		}
		p.processModel.DepositInputs = makerInputs

		inputs := append(append([]domain.RawInput{}, p.processModel.PeerInputs...), makerInputs...)
		tx, err := p.wallet.BuildTransaction(ctx, inputs, nil)
		if err != nil {
			h.Failed(err)
			return
		}
		signed, err := p.wallet.SignTransaction(ctx, tx)
		if err != nil {
			h.Failed(err)
			return
		}
		p.processModel.PreparedDepositTx = signed
		h.Complete()
	}}
}
