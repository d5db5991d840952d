package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// sellerAsTakerProtocol drives a trade where the local peer sells the asset
// and took the offer. It opens the trade with the taker fee round, co-signs
// the deposit, and releases the payout once the fiat payment is confirmed in
// the UI.
type sellerAsTakerProtocol struct {
	*tradeProtocol

	responseTimeout time.Duration
	statsStore      *AppendOnlyDataStoreService
	removeMailbox   func(uid string)
}

// NewSellerAsTakerProtocol returns the protocol variant for a seller that
// takes an offer.
func NewSellerAsTakerProtocol(
	trade *domain.Trade,
	tradeRepo domain.TradeRepository,
	transport ports.Transport,
	wallet ports.WalletService,
	statsStore *AppendOnlyDataStoreService,
	responseTimeout time.Duration,
	removeMailbox func(uid string),
) TradeProtocol {
	return &sellerAsTakerProtocol{
		tradeProtocol:   newTradeProtocol(trade, tradeRepo, transport, wallet),
		responseTimeout: responseTimeout,
		statsStore:      statsStore,
		removeMailbox:   removeMailbox,
	}
}

func (p *sellerAsTakerProtocol) HandleMessage(
	msg domain.TradeMessage, senderAddress string, fromMailbox bool,
) {
	switch m := msg.(type) {
	case *domain.InputsForDepositTxResponse:
		p.receive(m, senderAddress, fromMailbox, p.handleInputsForDepositTxResponse)
	case *domain.CounterCurrencyTransferStartedMessage:
		p.receive(m, senderAddress, fromMailbox, p.handleCounterCurrencyTransferStarted)
	case *domain.CancelTradeRequestMessage:
		p.receive(m, senderAddress, fromMailbox, p.handleCancelTradeRequest)
	default:
		log.WithField("trade", p.trade.Id).Warnf(
			"seller-as-taker protocol dropping unhandled %s message", msg.Route(),
		)
	}
}

// TakeOffer starts the trade: pay the taker fee, prepare the deposit inputs
// and ask the maker for its own. The response timer is armed right after the
// opening message went out.
func (p *sellerAsTakerProtocol) TakeOffer() {
	p.enqueue(func() {
		p.startTasks("takeOffer", []Task{
			p.createAndPublishTakerFeeTxTask(),
			p.createDepositTxInputsTask(),
			p.sendMessageTask("sendInputsForDepositTxRequest",
				func() (domain.MailboxMessage, error) {
					return &domain.InputsForDepositTxRequest{
						MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
						SenderAddress: p.processModel.MyAddress,
						TakerFeeTxId:  p.trade.TakerFeeTxId,
						TakerInputs:   p.processModel.DepositInputs,
					}, nil
				},
				nil, nil, nil, nil,
			),
		}, func() {
			p.startTimeout(p.responseTimeout)
		})
	})
}

func (p *sellerAsTakerProtocol) handleInputsForDepositTxResponse() {
	p.stopTimeout()
	// A repeated response with a fresh uid must not re-broadcast the
	// deposit tx.
	if p.trade.IsDepositPublished() {
		log.WithField("trade", p.trade.Id).Info(
			"deposit already published, ignoring repeated inputs response",
		)
		p.runnerDone()
		return
	}
	p.startTasks("inputsForDepositTxResponse", []Task{
		p.processInputsForDepositTxResponseTask(),
		p.signAndBroadcastDepositTxTask(),
		p.sendMessageTask("sendDepositTxMessage",
			func() (domain.MailboxMessage, error) {
				return &domain.DepositTxMessage{
					MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
					SenderAddress: p.processModel.MyAddress,
					DepositTx:     p.trade.DepositTx,
				}, nil
			},
			nil, nil, nil, nil,
		),
		p.publishTradeStatisticsTask(),
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

func (p *sellerAsTakerProtocol) handleCounterCurrencyTransferStarted() {
	p.startTasks("counterCurrencyTransferStarted", []Task{
		{Name: "processCounterCurrencyTransferStarted", Run: func(h *TaskHandler) {
			if _, err := p.trade.FiatSent(); err != nil {
				h.Failed(err)
				return
			}
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

// OnFiatPaymentReceived is triggered from the UI once the seller confirmed
// the fiat payment arrived: the payout is released. When the payout tx is
// already set the message is only resent, which happens if it did not arrive
// the first time.
func (p *sellerAsTakerProtocol) OnFiatPaymentReceived(onResult func(), onError func(err error)) {
	p.enqueue(func() {
		if p.trade.HasPayoutTx() {
			log.WithField("trade", p.trade.Id).Info(
				"payout tx already set, resending payout published message",
			)
			p.startTasks("onFiatPaymentReceived-resend", []Task{
				p.sendPayoutTxPublishedMessageTask(),
			}, onResult)
			return
		}

		p.startTasks("onFiatPaymentReceived", []Task{
			{Name: "confirmFiatReceived", Run: func(h *TaskHandler) {
				if _, err := p.trade.FiatReceived(); err != nil {
					onError(err)
					h.Failed(err)
					return
				}
				h.Complete()
			}},
			p.signAndBroadcastPayoutTxTask(onError),
			p.sendPayoutTxPublishedMessageTask(),
		}, onResult)
	})
}

func (p *sellerAsTakerProtocol) handleCancelTradeRequest() {
	p.startTasks("cancelTradeRequest", []Task{
		{Name: "processCancelTradeRequest", Run: func(h *TaskHandler) {
			if p.trade.IsDisputed() {
				h.Failed(domain.ErrTradeAlreadyDisputed)
				return
			}
			p.updateTrade(func(t *domain.Trade) {
				t.SetCancelState(domain.CancelStateRequestReceived)
			})
			h.Complete()
		}},
		p.removeMailboxMessageTask(p.removeMailbox),
	}, nil)
}

// OnAcceptCancelTradeRequest refunds the peer: the payout tx must already be
// prepared and the trade must not be disputed.
func (p *sellerAsTakerProtocol) OnAcceptCancelTradeRequest() {
	p.enqueue(func() {
		p.startTasks("acceptCancelTradeRequest", []Task{
			{Name: "checkCancelPreconditions", Run: func(h *TaskHandler) {
				if p.trade.IsDisputed() {
					h.Failed(domain.ErrTradeAlreadyDisputed)
					return
				}
				if !p.trade.HasPayoutTx() {
					h.Failed(domain.ErrTradePayoutNotSet)
					return
				}
				h.Complete()
			}},
			p.sendMessageTask("sendCancelTradeRequestAccepted",
				func() (domain.MailboxMessage, error) {
					return &domain.CancelTradeRequestAcceptedMessage{
						MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
						SenderAddress: p.processModel.MyAddress,
						PayoutTx:      p.trade.PayoutTx,
					}, nil
				},
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateAcceptedMsgSent) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateAcceptedMsgArrived) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateAcceptedMsgInMailbox) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateAcceptedMsgSendFailed) },
			),
		}, nil)
	})
}

// OnRejectCancelTradeRequest declines the cancellation.
func (p *sellerAsTakerProtocol) OnRejectCancelTradeRequest() {
	p.enqueue(func() {
		p.startTasks("rejectCancelTradeRequest", []Task{
			p.sendMessageTask("sendCancelTradeRequestRejected",
				func() (domain.MailboxMessage, error) {
					return &domain.CancelTradeRequestRejectedMessage{
						MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
						SenderAddress: p.processModel.MyAddress,
					}, nil
				},
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRejectedMsgSent) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRejectedMsgArrived) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRejectedMsgInMailbox) },
				func(t *domain.Trade) { t.SetCancelState(domain.CancelStateRejectedMsgSendFailed) },
			),
		}, nil)
	})
}

func (p *sellerAsTakerProtocol) createAndPublishTakerFeeTxTask() Task {
	return Task{Name: "createAndPublishTakerFeeTx", Run: func(h *TaskHandler) {
		ctx := context.Background()
		inputs, err := p.wallet.SelectInputs(ctx, p.trade.TradeAmount)
		if err != nil {
			h.Failed(err)
			return
		}
		p.processModel.TakerFeeInputs = inputs

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
		txId, err := p.wallet.BroadcastTransaction(ctx, signed)
		if err != nil {
			h.Failed(err)
			return
		}

		p.updateTrade(func(t *domain.Trade) {
			t.PublishTakerFee(txId)
		})
		h.Complete()
	}}
}

func (p *sellerAsTakerProtocol) createDepositTxInputsTask() Task {
	return Task{Name: "createDepositTxInputs", Run: func(h *TaskHandler) {
		inputs, err := p.wallet.SelectInputs(context.Background(), p.trade.TradeAmount)
		if err != nil {
			h.Failed(err)
			return
		}
		p.processModel.DepositInputs = inputs
		h.Complete()
	}}
}

func (p *sellerAsTakerProtocol) processInputsForDepositTxResponseTask() Task {
	return Task{Name: "processInputsForDepositTxResponse", Run: func(h *TaskHandler) {
		msg, ok := p.processModel.TradeMessage.(*domain.InputsForDepositTxResponse)
		if !ok || len(msg.PreparedDepositTx) == 0 || len(msg.MakerInputs) == 0 {
			h.Failed(domain.ErrInvalidMessage)
			return
		}
		p.processModel.PreparedDepositTx = msg.PreparedDepositTx
		h.Complete()
	}}
}

func (p *sellerAsTakerProtocol) signAndBroadcastDepositTxTask() Task {
	return Task{Name: "signAndBroadcastDepositTx", Run: func(h *TaskHandler) {
		ctx := context.Background()
		signed, err := p.wallet.SignTransaction(ctx, p.processModel.PreparedDepositTx)
		if err != nil {
			h.Failed(err)
			return
		}
		txId, err := p.wallet.BroadcastTransaction(ctx, signed)
		if err != nil {
			h.Failed(err)
			return
		}

		if _, err := p.trade.PublishDeposit(txId, signed); err != nil {
			h.Failed(err)
			return
		}
		p.persistTrade()
		h.Complete()
	}}
}

func (p *sellerAsTakerProtocol) signAndBroadcastPayoutTxTask(onError func(err error)) Task {
	return Task{Name: "signAndBroadcastPayoutTx", Run: func(h *TaskHandler) {
		ctx := context.Background()
		payout, err := p.wallet.BuildTransaction(ctx, nil, []domain.TxOutput{
			{Value: p.trade.TradeAmount, Address: p.peerAddress()},
		})
		if err != nil {
			onError(err)
			h.Failed(err)
			return
		}
		signed, err := p.wallet.SignTransaction(ctx, payout)
		if err != nil {
			onError(err)
			h.Failed(err)
			return
		}
		txId, err := p.wallet.BroadcastTransaction(ctx, signed)
		if err != nil {
			onError(err)
			h.Failed(err)
			return
		}

		if _, err := p.trade.PublishPayout(txId, signed); err != nil {
			onError(err)
			h.Failed(err)
			return
		}
		p.persistTrade()
		h.Complete()
	}}
}

func (p *sellerAsTakerProtocol) sendPayoutTxPublishedMessageTask() Task {
	return p.sendMessageTask("sendPayoutTxPublishedMessage",
		func() (domain.MailboxMessage, error) {
			if !p.trade.HasPayoutTx() {
				return nil, domain.ErrTradePayoutNotSet
			}
			return &domain.PayoutTxPublishedMessage{
				MessageMeta:   domain.NewMessageMeta(uuid.New().String(), p.trade.Id),
				SenderAddress: p.processModel.MyAddress,
				PayoutTx:      p.trade.PayoutTx,
			}, nil
		},
		nil, nil, nil, nil,
	)
}

// publishTradeStatisticsTask admits the completed round into the replicated
// append-only statistics. Only the first 4 chars of the resolver addresses
// are recorded.
func (p *sellerAsTakerProtocol) publishTradeStatisticsTask() Task {
	return Task{Name: "publishTradeStatistics", Run: func(h *TaskHandler) {
		entry := &domain.TradeStatisticsV2{
			CurrencyCode:  p.trade.CurrencyCode,
			TradePrice:    p.trade.TradePrice,
			TradeAmount:   p.trade.TradeAmount,
			PaymentMethod: p.trade.PaymentMethod,
			TradeDate:     p.trade.TradeDate,
			Mediator:      resolverPrefix(p.trade.MediatorAddress),
			Arbitrator:    resolverPrefix(p.trade.ArbitratorAddress),
		}
		if _, err := p.statsStore.Put(entry); err != nil {
			// Statistics are side artifacts, a rejected entry must not fail
			// the trade itself.
			log.WithField("trade", p.trade.Id).WithError(err).Warn(
				"could not publish trade statistics",
			)
		}
		h.Complete()
	}}
}

func resolverPrefix(address string) string {
	if len(address) <= domain.ResolverAddressPrefixLen {
		return address
	}
	return address[:domain.ResolverAddressPrefixLen]
}
