package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// DisputeStateListener observes dispute lifecycle changes across all trades.
type DisputeStateListener interface {
	OnDisputeOpened(tradeId string)
	OnDisputeClosed(tradeId string)
}

// AtomicOfferInfo carries the maker-side parameters of a published atomic
// swap offer, needed to accept a CreateAtomicTxRequest for it.
type AtomicOfferInfo struct {
	OfferId         string
	MakerBtcAddress string
	MakerBsqAddress string
	MakerIsBtcBuyer bool
}

// TradeManager owns the set of live trade protocols, dispatches inbound
// transport messages to them and keeps the dispute listener registry. All
// per-trade ordering guarantees live inside the protocols themselves; the
// manager only routes.
type TradeManager struct {
	tradeRepo  domain.TradeRepository
	statsRepo  domain.TradeStatisticsRepository
	transport  ports.Transport
	wallet     ports.WalletService
	statsStore *AppendOnlyDataStoreService

	responseTimeout time.Duration
	removeMailbox   func(uid string)

	protocolsMtx sync.Mutex
	protocols    map[string]TradeProtocol

	offersMtx    sync.Mutex
	atomicOffers map[string]AtomicOfferInfo

	listenersMtx sync.Mutex
	listeners    []DisputeStateListener
}

// NewTradeManager returns a manager wired to the given collaborators. Call
// Start to register the transport handler.
func NewTradeManager(
	tradeRepo domain.TradeRepository,
	statsRepo domain.TradeStatisticsRepository,
	transport ports.Transport,
	wallet ports.WalletService,
	statsStore *AppendOnlyDataStoreService,
	responseTimeout time.Duration,
	removeMailbox func(uid string),
) *TradeManager {
	return &TradeManager{
		tradeRepo:       tradeRepo,
		statsRepo:       statsRepo,
		transport:       transport,
		wallet:          wallet,
		statsStore:      statsStore,
		responseTimeout: responseTimeout,
		removeMailbox:   removeMailbox,
		protocols:       make(map[string]TradeProtocol),
		atomicOffers:    make(map[string]AtomicOfferInfo),
	}
}

// Start registers the inbound message handler on the transport.
func (m *TradeManager) Start() {
	m.transport.RegisterHandler(m.handleRawMessage)
}

// RegisterAtomicOffer makes a published atomic swap offer takeable: the
// first CreateAtomicTxRequest referencing its id spawns the maker protocol.
func (m *TradeManager) RegisterAtomicOffer(info AtomicOfferInfo) {
	m.offersMtx.Lock()
	defer m.offersMtx.Unlock()
	m.atomicOffers[info.OfferId] = info
}

// TakeOffer spawns a seller-as-taker protocol for the given offer and starts
// the opening round. The returned trade id identifies the new trade.
func (m *TradeManager) TakeOffer(
	ctx context.Context, offerId, makerAddress string, tradeAmount, tradePrice int64,
	currencyCode, paymentMethod string,
) (string, error) {
	trade, err := m.tradeRepo.GetOrCreateTrade(ctx, uuid.New().String(), offerId)
	if err != nil {
		return "", err
	}
	err = m.tradeRepo.UpdateTrade(ctx, trade.Id,
		func(t *domain.Trade) (*domain.Trade, error) {
			t.PeerAddress = makerAddress
			t.TradeAmount = tradeAmount
			t.TradePrice = tradePrice
			t.CurrencyCode = currencyCode
			t.PaymentMethod = paymentMethod
			*trade = *t
			return t, nil
		},
	)
	if err != nil {
		return "", err
	}

	protocol := NewSellerAsTakerProtocol(
		trade, m.tradeRepo, m.transport, m.wallet,
		m.statsStore, m.responseTimeout, m.removeMailbox,
	)
	m.register(trade.Id, protocol)

	protocol.(*sellerAsTakerProtocol).TakeOffer()
	return trade.Id, nil
}

// MakeTrade spawns a buyer-as-maker protocol waiting for the taker's opening
// message of the given trade.
func (m *TradeManager) MakeTrade(
	ctx context.Context, tradeId, offerId string,
) (TradeProtocol, error) {
	trade, err := m.tradeRepo.GetOrCreateTrade(ctx, tradeId, offerId)
	if err != nil {
		return nil, err
	}

	protocol := NewBuyerAsMakerProtocol(
		trade, m.tradeRepo, m.transport, m.wallet,
		m.responseTimeout, m.removeMailbox,
	)
	m.register(trade.Id, protocol)
	return protocol, nil
}

// GetProtocol returns the live protocol of a trade, if any.
func (m *TradeManager) GetProtocol(tradeId string) (TradeProtocol, bool) {
	m.protocolsMtx.Lock()
	defer m.protocolsMtx.Unlock()
	p, ok := m.protocols[tradeId]
	return p, ok
}

// GetTrade returns the persisted trade aggregate.
func (m *TradeManager) GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error) {
	return m.tradeRepo.GetTradeById(ctx, tradeId)
}

// ListTrades returns all persisted trades.
func (m *TradeManager) ListTrades(ctx context.Context) ([]*domain.Trade, error) {
	return m.tradeRepo.GetAllTrades(ctx)
}

// AddDisputeStateListener registers a dispute lifecycle observer.
func (m *TradeManager) AddDisputeStateListener(l DisputeStateListener) {
	m.listenersMtx.Lock()
	defer m.listenersMtx.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveDisputeStateListener removes a previously registered observer.
func (m *TradeManager) RemoveDisputeStateListener(l DisputeStateListener) {
	m.listenersMtx.Lock()
	defer m.listenersMtx.Unlock()
	for i, cur := range m.listeners {
		if cur == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// OpenDispute escalates a trade to the least used of the available
// mediators, computed from the shared replicated statistics so every peer
// picks the same one.
func (m *TradeManager) OpenDispute(
	ctx context.Context, tradeId string, availableMediators []string,
) (string, error) {
	stats, err := m.statsRepo.GetAllTradeStatistics(ctx)
	if err != nil {
		return "", err
	}
	mediator, err := GetLeastUsedMediator(stats, availableMediators)
	if err != nil {
		return "", err
	}

	err = m.applyTradeTransition(ctx, tradeId, func(t *domain.Trade) error {
		_, err := t.OpenDispute(mediator)
		return err
	})
	if err != nil {
		return "", err
	}

	log.WithField("trade", tradeId).Infof("dispute opened with mediator %s", mediator)
	m.notifyListeners(func(l DisputeStateListener) { l.OnDisputeOpened(tradeId) })
	return mediator, nil
}

// CloseDispute settles a disputed trade with the payout transaction decided
// by the resolver and notifies the registered listeners.
func (m *TradeManager) CloseDispute(
	ctx context.Context, tradeId, payoutTxId string, payoutTx []byte,
) error {
	err := m.applyTradeTransition(ctx, tradeId, func(t *domain.Trade) error {
		if !t.IsDisputed() {
			return domain.ErrTradeNotDisputed
		}
		if _, err := t.PublishPayout(payoutTxId, payoutTx); err != nil {
			return err
		}
		_, err := t.Complete(time.Now().Unix())
		return err
	})
	if err != nil {
		return err
	}

	log.WithField("trade", tradeId).Info("dispute closed")
	m.notifyListeners(func(l DisputeStateListener) { l.OnDisputeClosed(tradeId) })
	return nil
}

// applyTradeTransition mutates a trade through its live protocol when one is
// registered, so the transition serializes with the protocol's task runners
// and both see the same aggregate. Trades without a running protocol are
// mutated on their persisted state directly.
func (m *TradeManager) applyTradeTransition(
	ctx context.Context, tradeId string, apply func(t *domain.Trade) error,
) error {
	if protocol, ok := m.GetProtocol(tradeId); ok {
		return protocol.applyTransition(apply)
	}
	return m.tradeRepo.UpdateTrade(ctx, tradeId,
		func(t *domain.Trade) (*domain.Trade, error) {
			if err := apply(t); err != nil {
				return nil, err
			}
			return t, nil
		},
	)
}

func (m *TradeManager) register(tradeId string, p TradeProtocol) {
	m.protocolsMtx.Lock()
	defer m.protocolsMtx.Unlock()
	m.protocols[tradeId] = p
}

// notifyListeners iterates over a snapshot so that a listener may deregister
// itself (or others) from within its callback.
func (m *TradeManager) notifyListeners(notify func(l DisputeStateListener)) {
	m.listenersMtx.Lock()
	snapshot := make([]DisputeStateListener, len(m.listeners))
	copy(snapshot, m.listeners)
	m.listenersMtx.Unlock()

	for _, l := range snapshot {
		notify(l)
	}
}

// handleRawMessage is the single transport entry point: decode, route to the
// owning protocol, spawn the atomic maker protocol for opening requests on a
// registered atomic offer. Unknown routes and unroutable messages are logged
// and dropped, never failed back to the network.
func (m *TradeManager) handleRawMessage(raw []byte, senderAddress string, fromMailbox bool) {
	msg, err := domain.DecodeMessage(raw)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable inbound message")
		return
	}

	if protocol, ok := m.GetProtocol(msg.GetTradeId()); ok {
		protocol.HandleMessage(msg, senderAddress, fromMailbox)
		return
	}

	if req, ok := msg.(*domain.CreateAtomicTxRequest); ok {
		m.handleNewAtomicTrade(req, senderAddress, fromMailbox)
		return
	}

	log.WithField("trade", msg.GetTradeId()).Warnf(
		"dropping %s message for unknown trade", msg.Route(),
	)
}

func (m *TradeManager) handleNewAtomicTrade(
	req *domain.CreateAtomicTxRequest, senderAddress string, fromMailbox bool,
) {
	// The taker derives the trade id from the offer id it takes.
	m.offersMtx.Lock()
	info, ok := m.atomicOffers[req.GetTradeId()]
	m.offersMtx.Unlock()
	if !ok {
		log.WithField("trade", req.GetTradeId()).Warn(
			"dropping atomic tx request: no registered atomic offer",
		)
		return
	}

	trade, err := m.tradeRepo.GetOrCreateTrade(
		context.Background(), req.GetTradeId(), info.OfferId,
	)
	if err != nil {
		log.WithField("trade", req.GetTradeId()).WithError(err).Error(
			"could not create atomic trade",
		)
		return
	}

	protocol := NewAtomicMakerProtocol(
		trade, m.tradeRepo, m.transport, m.wallet,
		info.MakerBtcAddress, info.MakerBsqAddress, info.MakerIsBtcBuyer,
		m.removeMailbox,
	)
	m.register(trade.Id, protocol)
	protocol.HandleMessage(req, senderAddress, fromMailbox)
}
