package application

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// TradeProtocol is one per-role protocol variant driving a single trade. It
// maps incoming messages and locally triggered user actions onto ordered
// task lists.
type TradeProtocol interface {
	HandleMessage(msg domain.TradeMessage, senderAddress string, fromMailbox bool)
	Trade() *domain.Trade
	applyTransition(apply func(t *domain.Trade) error) error
}

// tradeProtocol carries the state and orchestration shared by all protocol
// variants: per-trade serialization of task runners, uid deduplication, the
// response timeout and the mailbox-aware send path.
type tradeProtocol struct {
	trade        *domain.Trade
	processModel *domain.ProcessModel
	tradeRepo    domain.TradeRepository
	transport    ports.Transport
	wallet       ports.WalletService

	mtx     sync.Mutex
	active  bool
	pending []func()

	timeoutMtx   sync.Mutex
	timeoutTimer *time.Timer
}

func newTradeProtocol(
	trade *domain.Trade,
	tradeRepo domain.TradeRepository,
	transport ports.Transport,
	wallet ports.WalletService,
) *tradeProtocol {
	return &tradeProtocol{
		trade:        trade,
		processModel: domain.NewProcessModel(trade.OfferId, transport.MyAddress()),
		tradeRepo:    tradeRepo,
		transport:    transport,
		wallet:       wallet,
	}
}

func (p *tradeProtocol) Trade() *domain.Trade {
	return p.trade
}

// enqueue serializes triggers per trade: a new task runner is never started
// while one is still active, queued triggers run in arrival order once the
// current runner's callback fired.
func (p *tradeProtocol) enqueue(trigger func()) {
	p.mtx.Lock()
	if p.active {
		p.pending = append(p.pending, trigger)
		p.mtx.Unlock()
		return
	}
	p.active = true
	p.mtx.Unlock()
	trigger()
}

// runnerDone releases the per-trade slot and runs the next queued trigger,
// if any.
func (p *tradeProtocol) runnerDone() {
	p.mtx.Lock()
	if len(p.pending) > 0 {
		next := p.pending[0]
		p.pending = p.pending[1:]
		p.mtx.Unlock()
		next()
		return
	}
	p.active = false
	p.mtx.Unlock()
}

// applyTransition runs an externally triggered transition on the live trade
// with the per-trade slot held, so it never interleaves with a running task
// list, and persists the result. It blocks until the transition ran, which
// may be after the current runner and all queued triggers finished.
func (p *tradeProtocol) applyTransition(apply func(t *domain.Trade) error) error {
	done := make(chan error, 1)
	p.enqueue(func() {
		err := apply(p.trade)
		if err == nil {
			p.persistTrade()
		}
		done <- err
		p.runnerDone()
	})
	return <-done
}

// receive applies the dispatch rule common to all variants: trade id check,
// uid deduplication, storing message and current sender address into the
// process model. start runs with the per-trade slot held.
func (p *tradeProtocol) receive(
	msg domain.TradeMessage, senderAddress string, fromMailbox bool, start func(),
) {
	if msg.GetTradeId() != p.trade.Id {
		log.WithField("trade", p.trade.Id).WithError(domain.ErrTradeIdMismatch).Warnf(
			"rejecting %s message carrying foreign trade id %s",
			msg.Route(), msg.GetTradeId(),
		)
		return
	}

	p.enqueue(func() {
		if p.processModel.MarkProcessed(msg.GetUid()) {
			log.WithField("trade", p.trade.Id).Debugf(
				"ignoring redelivered %s message with uid %s", msg.Route(), msg.GetUid(),
			)
			p.runnerDone()
			return
		}
		if fromMailbox {
			p.processModel.MarkMailbox(msg.GetUid())
		}

		p.processModel.SetMessage(msg, senderAddress)
		if senderAddress != "" {
			p.updateTrade(func(t *domain.Trade) {
				t.PeerAddress = senderAddress
			})
		}

		log.WithField("trade", p.trade.Id).Infof(
			"received %s from %s with uid %s", msg.Route(), senderAddress, msg.GetUid(),
		)
		start()
	})
}

// startTasks builds and runs a task runner whose completion releases the
// per-trade slot. The fault handler records the failure into the trade;
// there is exactly one of each per invocation.
func (p *tradeProtocol) startTasks(name string, tasks []Task, onSuccess func()) {
	runner := NewTaskRunner(
		p.trade.Id,
		func() {
			log.WithField("trade", p.trade.Id).Debugf("task runner %s completed", name)
			p.persistTrade()
			if onSuccess != nil {
				onSuccess()
			}
			p.runnerDone()
		},
		func(cause error) {
			log.WithField("trade", p.trade.Id).WithError(cause).Errorf(
				"task runner %s failed", name,
			)
			p.updateTrade(func(t *domain.Trade) {
				t.Fail(cause.Error())
			})
			p.runnerDone()
		},
	)
	runner.AddTasks(tasks...)
	runner.Run()
}

// startTimeout arms the trade-level response timer. It fires a generic
// timeout failure: the stalled peer does not transmit a reason back.
func (p *tradeProtocol) startTimeout(d time.Duration) {
	p.timeoutMtx.Lock()
	defer p.timeoutMtx.Unlock()

	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	p.timeoutTimer = time.AfterFunc(d, func() {
		log.WithField("trade", p.trade.Id).Warn("response timeout fired")
		p.enqueue(func() {
			p.updateTrade(func(t *domain.Trade) {
				t.Fail(ErrResponseTimeout.Error())
			})
			p.runnerDone()
		})
	})
}

// stopTimeout cancels the response timer. Safe to call when the timer
// already fired or was never armed.
func (p *tradeProtocol) stopTimeout() {
	p.timeoutMtx.Lock()
	defer p.timeoutMtx.Unlock()

	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
		p.timeoutTimer = nil
	}
}

// peerAddress prefers the temporary address of the last received message,
// since peers can reconnect from a different address between rounds.
func (p *tradeProtocol) peerAddress() string {
	if p.processModel.TempPeerAddress != "" {
		return p.processModel.TempPeerAddress
	}
	return p.trade.PeerAddress
}

// updateTrade mutates the aggregate and persists it. The trade is persisted
// after every state transition.
func (p *tradeProtocol) updateTrade(mutate func(t *domain.Trade)) {
	mutate(p.trade)
	p.persistTrade()
}

func (p *tradeProtocol) persistTrade() {
	err := p.tradeRepo.UpdateTrade(
		context.Background(), p.trade.Id,
		func(*domain.Trade) (*domain.Trade, error) {
			return p.trade, nil
		},
	)
	if err != nil {
		log.WithField("trade", p.trade.Id).WithError(err).Error("could not persist trade")
	}
}

// sendMessageTask returns a task attempting direct delivery with mailbox
// fallback. Each of the four terminal send outcomes is mapped onto its own
// trade transition so that the audit trail reflects the delivery status even
// without the peer's confirmation.
func (p *tradeProtocol) sendMessageTask(
	name string,
	build func() (domain.MailboxMessage, error),
	setSent, setArrived, setStoredInMailbox, setFault func(t *domain.Trade),
) Task {
	return Task{Name: name, Run: func(h *TaskHandler) {
		msg, err := build()
		if err != nil {
			h.Failed(err)
			return
		}
		raw, err := domain.EncodeMessage(msg)
		if err != nil {
			h.Failed(err)
			return
		}

		if setSent != nil {
			p.updateTrade(setSent)
		}

		outcome, err := p.transport.Send(context.Background(), p.peerAddress(), raw)
		if err != nil {
			log.WithField("trade", p.trade.Id).WithError(err).Warnf(
				"sending %s message", msg.Route(),
			)
		}

		log.WithField("trade", p.trade.Id).Infof(
			"%s message send outcome: %s", msg.Route(), outcome,
		)
		switch outcome {
		case ports.SendOutcomeArrived:
			if setArrived != nil {
				p.updateTrade(setArrived)
			}
			h.Complete()
		case ports.SendOutcomeStoredInMailbox:
			if setStoredInMailbox != nil {
				p.updateTrade(setStoredInMailbox)
			}
			h.Complete()
		default:
			if setFault != nil {
				p.updateTrade(setFault)
			}
			h.Failed(ErrSendFailed)
		}
	}}
}

// removeMailboxMessageTask removes the just processed message from the
// mailbox store so it is not replayed on the next startup. Non-mailbox
// messages make this a no-op.
func (p *tradeProtocol) removeMailboxMessageTask(remove func(uid string)) Task {
	return Task{Name: "removeMailboxMessage", Run: func(h *TaskHandler) {
		msg := p.processModel.TradeMessage
		if msg != nil && p.processModel.TakeMailbox(msg.GetUid()) && remove != nil {
			remove(msg.GetUid())
		}
		h.Complete()
	}}
}
