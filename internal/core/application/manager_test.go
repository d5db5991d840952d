package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
	"github.com/peertrade-network/peertrade-daemon/internal/infrastructure/storage/db/inmemory"
)

func TestTakeOfferStartsSellerProtocol(t *testing.T) {
	env := newManagerEnv(t)

	tradeId, err := env.manager.TakeOffer(
		context.Background(), "offer-1", "maker.onion:9735",
		2500000, 6000000, "EUR", "SEPA",
	)
	require.NoError(t, err)

	protocol, ok := env.manager.GetProtocol(tradeId)
	require.True(t, ok)
	protocol.(*sellerAsTakerProtocol).stopTimeout()

	trade, err := env.manager.GetTrade(context.Background(), tradeId)
	require.NoError(t, err)
	require.Equal(t, "offer-1", trade.OfferId)
	require.Equal(t, "maker.onion:9735", trade.PeerAddress)
	require.Equal(t, "EUR", trade.CurrencyCode)
	require.Equal(t, domain.TradeStatusCodeTakerFeePublished, trade.Status.Code)

	require.Len(t, env.transport.sentMessages(), 1)
}

func TestManagerRoutesInboundMessagesByTradeId(t *testing.T) {
	env := newManagerEnv(t)
	env.manager.Start()

	protocol, err := env.manager.MakeTrade(context.Background(), "trade-1", "offer-1")
	require.NoError(t, err)

	request := &domain.InputsForDepositTxRequest{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), "trade-1"),
		SenderAddress: "taker.onion:9735",
		TakerFeeTxId:  "taker-fee-tx",
		TakerInputs:   []domain.RawInput{{ParentTransaction: []byte("taker"), Value: 100}},
	}
	raw, err := domain.EncodeMessage(request)
	require.NoError(t, err)
	env.transport.handler(raw, request.SenderAddress, false)

	protocol.(*buyerAsMakerProtocol).stopTimeout()

	require.Equal(t, "taker-fee-tx", protocol.Trade().TakerFeeTxId)
	require.Len(t, env.transport.sentMessages(), 1)
}

func TestManagerDropsMessagesForUnknownTrades(t *testing.T) {
	env := newManagerEnv(t)
	env.manager.Start()

	msg := &domain.DepositTxMessage{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), "nobody-home"),
		SenderAddress: "taker.onion:9735",
		DepositTx:     []byte("deposit"),
	}
	raw, err := domain.EncodeMessage(msg)
	require.NoError(t, err)
	env.transport.handler(raw, msg.SenderAddress, false)

	_, ok := env.manager.GetProtocol("nobody-home")
	require.False(t, ok)
	require.Empty(t, env.transport.sentMessages())
}

func TestManagerSpawnsAtomicMakerForRegisteredOffer(t *testing.T) {
	env := newManagerEnv(t)
	env.manager.Start()
	env.manager.RegisterAtomicOffer(AtomicOfferInfo{
		OfferId:         "atomic-offer-1",
		MakerBtcAddress: "maker-btc-address",
		MakerBsqAddress: "maker-bsq-address",
		MakerIsBtcBuyer: true,
	})

	request := newAtomicRequest("atomic-offer-1")
	raw, err := domain.EncodeMessage(request)
	require.NoError(t, err)
	env.transport.handler(raw, request.SenderAddress, false)

	protocol, ok := env.manager.GetProtocol("atomic-offer-1")
	require.True(t, ok)
	require.True(t, protocol.Trade().AtomicSwap)
	require.True(t, protocol.Trade().IsDepositPublished())

	env.wallet.confirm("swap-tx-id")
	require.True(t, protocol.Trade().IsCompleted())
}

func TestManagerDropsAtomicRequestWithoutOffer(t *testing.T) {
	env := newManagerEnv(t)
	env.manager.Start()

	request := newAtomicRequest("never-published")
	raw, err := domain.EncodeMessage(request)
	require.NoError(t, err)
	env.transport.handler(raw, request.SenderAddress, false)

	_, ok := env.manager.GetProtocol("never-published")
	require.False(t, ok)
	require.Zero(t, env.wallet.broadcastCount())
}

func TestOpenAndCloseDispute(t *testing.T) {
	env := newManagerEnv(t)
	tradeId := env.newDepositPublishedTrade(t)

	listener := &recordingDisputeListener{}
	env.manager.AddDisputeStateListener(listener)

	mediator, err := env.manager.OpenDispute(
		context.Background(), tradeId, []string{"AAAA1111", "BBBB2222"},
	)
	require.NoError(t, err)
	require.Equal(t, "AAAA1111", mediator)
	require.Equal(t, []string{tradeId}, listener.opened)

	trade, err := env.manager.GetTrade(context.Background(), tradeId)
	require.NoError(t, err)
	require.True(t, trade.IsDisputed())
	require.Equal(t, "AAAA1111", trade.MediatorAddress)

	err = env.manager.CloseDispute(
		context.Background(), tradeId, "payout-tx-id", []byte("payout"),
	)
	require.NoError(t, err)
	require.Equal(t, []string{tradeId}, listener.closed)

	trade, err = env.manager.GetTrade(context.Background(), tradeId)
	require.NoError(t, err)
	require.True(t, trade.IsCompleted())
	require.Equal(t, "payout-tx-id", trade.PayoutTxId)
}

func TestDisputeOnLiveTradeBlocksPayout(t *testing.T) {
	env := newManagerEnv(t)

	tradeId, err := env.manager.TakeOffer(
		context.Background(), "offer-1", "maker.onion:9735",
		2500000, 6000000, "EUR", "SEPA",
	)
	require.NoError(t, err)
	protocol, ok := env.manager.GetProtocol(tradeId)
	require.True(t, ok)
	seller := protocol.(*sellerAsTakerProtocol)
	seller.stopTimeout()

	response := &domain.InputsForDepositTxResponse{
		MessageMeta:       domain.NewMessageMeta(uuid.New().String(), tradeId),
		SenderAddress:     "maker.onion:9735",
		MakerInputs:       []domain.RawInput{{ParentTransaction: []byte("maker"), Value: 100}},
		PreparedDepositTx: []byte("prepared-deposit"),
	}
	seller.HandleMessage(response, response.SenderAddress, false)
	require.True(t, seller.Trade().IsDepositPublished())

	// The dispute must reach the protocol's live aggregate, not just the
	// persisted copy.
	_, err = env.manager.OpenDispute(context.Background(), tradeId, []string{"AAAA1111"})
	require.NoError(t, err)
	require.True(t, seller.Trade().IsDisputed())

	var gotErr error
	seller.OnFiatPaymentReceived(func() {}, func(err error) { gotErr = err })

	require.ErrorIs(t, gotErr, domain.ErrTradeAlreadyDisputed)
	require.Empty(t, seller.Trade().PayoutTx)

	trade, err := env.manager.GetTrade(context.Background(), tradeId)
	require.NoError(t, err)
	require.True(t, trade.IsDisputed())
	require.Equal(t, "AAAA1111", trade.MediatorAddress)

	err = env.manager.CloseDispute(
		context.Background(), tradeId, "resolver-payout-tx", []byte("payout"),
	)
	require.NoError(t, err)
	require.True(t, seller.Trade().IsCompleted())
	require.Equal(t, "resolver-payout-tx", seller.Trade().PayoutTxId)
}

func TestCloseDisputeRequiresDisputedTrade(t *testing.T) {
	env := newManagerEnv(t)
	tradeId := env.newDepositPublishedTrade(t)

	err := env.manager.CloseDispute(
		context.Background(), tradeId, "payout-tx-id", []byte("payout"),
	)
	require.ErrorIs(t, err, domain.ErrTradeNotDisputed)
}

func TestRemovedDisputeListenerIsNotNotified(t *testing.T) {
	env := newManagerEnv(t)
	tradeId := env.newDepositPublishedTrade(t)

	listener := &recordingDisputeListener{}
	env.manager.AddDisputeStateListener(listener)
	env.manager.RemoveDisputeStateListener(listener)

	_, err := env.manager.OpenDispute(
		context.Background(), tradeId, []string{"AAAA1111"},
	)
	require.NoError(t, err)
	require.Empty(t, listener.opened)
}

type managerEnv struct {
	manager   *TradeManager
	tradeRepo domain.TradeRepository
	transport *mockTransport
	wallet    *mockWallet
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	tradeRepo := inmemory.NewTradeRepositoryImpl()
	statsRepo := inmemory.NewTradeStatisticsRepositoryImpl()
	transport := &mockTransport{outcome: ports.SendOutcomeArrived}
	wallet := newMockWallet()
	manager := NewTradeManager(
		tradeRepo, statsRepo, transport, wallet,
		NewAppendOnlyDataStoreService(), time.Minute, func(uid string) {},
	)

	return &managerEnv{
		manager:   manager,
		tradeRepo: tradeRepo,
		transport: transport,
		wallet:    wallet,
	}
}

func (e *managerEnv) newDepositPublishedTrade(t *testing.T) string {
	t.Helper()

	trade, err := e.tradeRepo.GetOrCreateTrade(
		context.Background(), uuid.New().String(), "offer-1",
	)
	require.NoError(t, err)
	_, err = trade.PublishTakerFee("fee-tx")
	require.NoError(t, err)
	_, err = trade.PublishDeposit("deposit-tx", []byte("deposit"))
	require.NoError(t, err)

	err = e.tradeRepo.UpdateTrade(context.Background(), trade.Id,
		func(t *domain.Trade) (*domain.Trade, error) {
			*t = *trade
			return t, nil
		},
	)
	require.NoError(t, err)
	return trade.Id
}

type recordingDisputeListener struct {
	opened []string
	closed []string
}

func (l *recordingDisputeListener) OnDisputeOpened(tradeId string) {
	l.opened = append(l.opened, tradeId)
}

func (l *recordingDisputeListener) OnDisputeClosed(tradeId string) {
	l.closed = append(l.closed, tradeId)
}