package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
	"github.com/peertrade-network/peertrade-daemon/internal/infrastructure/storage/db/inmemory"
)

func TestSellerAsTakerTakeOffer(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.TakeOffer()
	protocol.stopTimeout()

	require.Equal(t, domain.TradeStatusCodeTakerFeePublished, env.trade.Status.Code)
	require.NotEmpty(t, env.trade.TakerFeeTxId)

	sent := env.transport.sentMessages()
	require.Len(t, sent, 1)
	request, ok := sent[0].(*domain.InputsForDepositTxRequest)
	require.True(t, ok)
	require.Equal(t, env.trade.Id, request.GetTradeId())
	require.Equal(t, env.trade.TakerFeeTxId, request.TakerFeeTxId)
	require.NotEmpty(t, request.TakerInputs)
}

func TestSellerAsTakerDepositRound(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.TakeOffer()

	response := &domain.InputsForDepositTxResponse{
		MessageMeta:       domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress:     "maker.onion:9735",
		MakerInputs:       []domain.RawInput{{ParentTransaction: []byte("maker"), Value: 100}},
		PreparedDepositTx: []byte("prepared-deposit"),
	}
	protocol.HandleMessage(response, response.SenderAddress, false)

	require.True(t, env.trade.IsDepositPublished())
	require.Equal(t, "maker.onion:9735", env.trade.PeerAddress)

	sent := env.transport.sentMessages()
	require.Len(t, sent, 2)
	_, ok := sent[1].(*domain.DepositTxMessage)
	require.True(t, ok)

	// The deposit round also published the trade statistics.
	require.Len(t, env.statsStore.GetMap(), 1)
}

func TestProtocolIgnoresRedeliveredUids(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.TakeOffer()

	response := &domain.InputsForDepositTxResponse{
		MessageMeta:       domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress:     "maker.onion:9735",
		MakerInputs:       []domain.RawInput{{ParentTransaction: []byte("maker"), Value: 100}},
		PreparedDepositTx: []byte("prepared-deposit"),
	}
	protocol.HandleMessage(response, response.SenderAddress, false)
	protocol.HandleMessage(response, response.SenderAddress, false)

	// One taker request plus one deposit message: the redelivery must not
	// re-broadcast nor resend anything.
	require.Len(t, env.transport.sentMessages(), 2)
	require.Equal(t, 1, env.wallet.broadcasts("prepared-deposit"))
}

func TestSellerIgnoresRepeatedDepositResponses(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.TakeOffer()

	// Same response content delivered twice under fresh uids: the deposit
	// tx must be broadcast and announced exactly once.
	for i := 0; i < 2; i++ {
		response := &domain.InputsForDepositTxResponse{
			MessageMeta:       domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
			SenderAddress:     "maker.onion:9735",
			MakerInputs:       []domain.RawInput{{ParentTransaction: []byte("maker"), Value: 100}},
			PreparedDepositTx: []byte("prepared-deposit"),
		}
		protocol.HandleMessage(response, response.SenderAddress, false)
	}

	require.Equal(t, 1, env.wallet.broadcasts("prepared-deposit"))
	require.Len(t, env.transport.sentMessages(), 2)
}

func TestBuyerIgnoresRepeatedInputsRequests(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newBuyerAsMaker(time.Minute)

	for i := 0; i < 2; i++ {
		request := &domain.InputsForDepositTxRequest{
			MessageMeta:   domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
			SenderAddress: "taker.onion:9735",
			TakerFeeTxId:  "taker-fee-tx",
			TakerInputs:   []domain.RawInput{{ParentTransaction: []byte("taker"), Value: 100}},
		}
		protocol.HandleMessage(request, request.SenderAddress, false)
	}
	protocol.stopTimeout()

	require.Len(t, env.transport.sentMessages(), 1)
}

func TestAtomicMakerIgnoresRepeatedRequests(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := NewAtomicMakerProtocol(
		env.trade, env.tradeRepo, env.transport, env.wallet,
		"maker-btc-address", "maker-bsq-address", true,
		func(uid string) {},
	)

	for i := 0; i < 2; i++ {
		request := newAtomicRequest(env.trade.Id)
		protocol.HandleMessage(request, request.SenderAddress, false)
	}

	require.Equal(t, 1, env.wallet.broadcastCount())
}

func TestProtocolRejectsForeignTradeId(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	response := &domain.InputsForDepositTxResponse{
		MessageMeta:       domain.NewMessageMeta(uuid.New().String(), "other-trade"),
		SenderAddress:     "maker.onion:9735",
		MakerInputs:       []domain.RawInput{{ParentTransaction: []byte("maker"), Value: 100}},
		PreparedDepositTx: []byte("prepared-deposit"),
	}
	protocol.HandleMessage(response, response.SenderAddress, false)

	require.True(t, env.trade.IsEmpty())
	require.Empty(t, env.transport.sentMessages())
}

func TestResponseTimeoutFailsTrade(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(20 * time.Millisecond)

	protocol.TakeOffer()

	require.Eventually(t, func() bool {
		return env.trade.IsFailed()
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, ErrResponseTimeout.Error(), env.trade.FailureReason)
}

func TestStopTimeoutIsIdempotent(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.stopTimeout()
	protocol.startTimeout(time.Minute)
	protocol.stopTimeout()
	protocol.stopTimeout()
}

func TestCancelAcceptedSendOutcomeMapping(t *testing.T) {
	tests := []struct {
		name          string
		outcome       ports.SendOutcome
		expectedState int
		expectFailed  bool
	}{
		{
			name:          "arrived",
			outcome:       ports.SendOutcomeArrived,
			expectedState: domain.CancelStateAcceptedMsgArrived,
		},
		{
			name:          "stored_in_mailbox",
			outcome:       ports.SendOutcomeStoredInMailbox,
			expectedState: domain.CancelStateAcceptedMsgInMailbox,
		},
		{
			name:          "send_failed",
			outcome:       ports.SendOutcomeFailed,
			expectedState: domain.CancelStateAcceptedMsgSendFailed,
			expectFailed:  true,
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			env := newProtocolEnv(t, tt.outcome)
			protocol := env.newSellerAsTaker(time.Minute)
			env.trade.PublishTakerFee("fee-tx")
			env.trade.PublishDeposit("deposit-tx", []byte("deposit"))
			env.trade.PublishPayout("payout-tx", []byte("payout"))

			protocol.OnAcceptCancelTradeRequest()

			require.Equal(t, tt.expectedState, env.trade.CancelState.Code)
			require.Equal(t, tt.expectFailed, env.trade.IsFailed())
		})
	}
}

func TestAcceptCancelRequiresPayoutTx(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newSellerAsTaker(time.Minute)

	protocol.OnAcceptCancelTradeRequest()

	require.True(t, env.trade.IsFailed())
	require.Equal(t, domain.ErrTradePayoutNotSet.Error(), env.trade.FailureReason)
	require.Empty(t, env.transport.sentMessages())
}

func TestBuyerAsMakerDepositRound(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newBuyerAsMaker(time.Minute)

	request := &domain.InputsForDepositTxRequest{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress: "taker.onion:9735",
		TakerFeeTxId:  "taker-fee-tx",
		TakerInputs:   []domain.RawInput{{ParentTransaction: []byte("taker"), Value: 100}},
	}
	protocol.HandleMessage(request, request.SenderAddress, false)

	require.Equal(t, "taker-fee-tx", env.trade.TakerFeeTxId)
	sent := env.transport.sentMessages()
	require.Len(t, sent, 1)
	response, ok := sent[0].(*domain.InputsForDepositTxResponse)
	require.True(t, ok)
	require.NotEmpty(t, response.PreparedDepositTx)
	require.NotEmpty(t, response.MakerInputs)

	protocol.stopTimeout()

	deposit := &domain.DepositTxMessage{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress: "taker.onion:9735",
		DepositTx:     []byte("deposit"),
	}
	protocol.HandleMessage(deposit, deposit.SenderAddress, false)

	require.True(t, env.trade.IsDepositPublished())
}

func TestBuyerAsMakerPayoutCompletesTrade(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := env.newBuyerAsMaker(time.Minute)
	env.trade.PublishTakerFee("fee-tx")
	env.trade.PublishDeposit("deposit-tx", []byte("deposit"))

	payout := &domain.PayoutTxPublishedMessage{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress: "seller.onion:9735",
		PayoutTx:      []byte("payout"),
	}
	protocol.HandleMessage(payout, payout.SenderAddress, false)

	require.True(t, env.trade.IsCompleted())
	require.True(t, env.trade.HasPayoutTx())
}

func TestMailboxMessageRemovedAfterProcessing(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	var removed []string
	env.removeMailbox = func(uid string) { removed = append(removed, uid) }
	protocol := env.newBuyerAsMaker(time.Minute)
	env.trade.PublishTakerFee("fee-tx")
	env.trade.PublishDeposit("deposit-tx", []byte("deposit"))

	payout := &domain.PayoutTxPublishedMessage{
		MessageMeta:   domain.NewMessageMeta(uuid.New().String(), env.trade.Id),
		SenderAddress: "seller.onion:9735",
		PayoutTx:      []byte("payout"),
	}
	protocol.HandleMessage(payout, payout.SenderAddress, true)

	require.Equal(t, []string{payout.GetUid()}, removed)
}

func TestEnqueueSerializesTriggersPerTrade(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	p := newTradeProtocol(env.trade, env.tradeRepo, env.transport, env.wallet)

	var order []string
	p.enqueue(func() { order = append(order, "first") })

	// The first trigger holds the slot until runnerDone: later triggers
	// must queue instead of running.
	p.enqueue(func() { order = append(order, "second") })
	p.enqueue(func() { order = append(order, "third") })
	require.Equal(t, []string{"first"}, order)

	p.runnerDone()
	require.Equal(t, []string{"first", "second"}, order)
	p.runnerDone()
	require.Equal(t, []string{"first", "second", "third"}, order)

	p.runnerDone()
	p.enqueue(func() { order = append(order, "fourth") })
	require.Equal(t, []string{"first", "second", "third", "fourth"}, order)
}

func TestAtomicMakerSwapRound(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := NewAtomicMakerProtocol(
		env.trade, env.tradeRepo, env.transport, env.wallet,
		"maker-btc-address", "maker-bsq-address", true,
		func(uid string) {},
	)

	request := newAtomicRequest(env.trade.Id)
	protocol.HandleMessage(request, request.SenderAddress, false)

	require.True(t, env.trade.IsDepositPublished())
	require.Equal(t, "maker-btc-address", env.wallet.listenedAddress())

	// The swap settles once the combined tx is observed on chain.
	env.wallet.confirm("swap-tx-id")
	require.True(t, env.trade.IsCompleted())
	require.Equal(t, "swap-tx-id", env.trade.PayoutTxId)
}

func TestAtomicMakerRejectsInsufficientTakerInputs(t *testing.T) {
	env := newProtocolEnv(t, ports.SendOutcomeArrived)
	protocol := NewAtomicMakerProtocol(
		env.trade, env.tradeRepo, env.transport, env.wallet,
		"maker-btc-address", "maker-bsq-address", true,
		func(uid string) {},
	)

	request := newAtomicRequest(env.trade.Id)
	request.TakerBtcInputs = []domain.RawInput{
		{ParentTransaction: []byte("btc-parent"), Value: 10},
	}
	protocol.HandleMessage(request, request.SenderAddress, false)

	require.True(t, env.trade.IsFailed())
	require.Equal(t, ErrInsufficientTakerInputs.Error(), env.trade.FailureReason)
	require.Zero(t, env.wallet.broadcastCount())
}

type protocolEnv struct {
	trade         *domain.Trade
	tradeRepo     domain.TradeRepository
	transport     *mockTransport
	wallet        *mockWallet
	statsStore    *AppendOnlyDataStoreService
	removeMailbox func(uid string)
}

func newProtocolEnv(t *testing.T, outcome ports.SendOutcome) *protocolEnv {
	t.Helper()

	tradeRepo := inmemory.NewTradeRepositoryImpl()
	trade, err := tradeRepo.GetOrCreateTrade(context.Background(), uuid.New().String(), "offer-1")
	require.NoError(t, err)
	trade.TradeAmount = 2500000
	trade.TradePrice = 6000000
	trade.CurrencyCode = "EUR"
	trade.PaymentMethod = "SEPA"

	return &protocolEnv{
		trade:         trade,
		tradeRepo:     tradeRepo,
		transport:     &mockTransport{outcome: outcome},
		wallet:        newMockWallet(),
		statsStore:    NewAppendOnlyDataStoreService(),
		removeMailbox: func(uid string) {},
	}
}

func (e *protocolEnv) newSellerAsTaker(timeout time.Duration) *sellerAsTakerProtocol {
	return NewSellerAsTakerProtocol(
		e.trade, e.tradeRepo, e.transport, e.wallet,
		e.statsStore, timeout, func(uid string) { e.removeMailbox(uid) },
	).(*sellerAsTakerProtocol)
}

func (e *protocolEnv) newBuyerAsMaker(timeout time.Duration) *buyerAsMakerProtocol {
	return NewBuyerAsMakerProtocol(
		e.trade, e.tradeRepo, e.transport, e.wallet,
		timeout, func(uid string) { e.removeMailbox(uid) },
	).(*buyerAsMakerProtocol)
}

func newAtomicRequest(tradeId string) *domain.CreateAtomicTxRequest {
	return &domain.CreateAtomicTxRequest{
		MessageMeta:              domain.NewMessageMeta(uuid.New().String(), tradeId),
		SenderAddress:            "taker.onion:9735",
		TakerPubKeyRing:          []byte{0x01},
		BsqTradeAmount:           150000,
		BtcTradeAmount:           2500000,
		TradePrice:               6000000,
		TxFee:                    180,
		TakerFee:                 120,
		IsCurrencyForTakerFeeBtc: true,
		TakerBsqOutputValue:      150000,
		TakerBsqOutputAddress:    "bsq-out",
		TakerBtcOutputValue:      2500000,
		TakerBtcOutputAddress:    "btc-out",
		TakerBsqInputs: []domain.RawInput{
			{ParentTransaction: []byte("bsq-parent"), Value: 160000},
		},
		TakerBtcInputs: []domain.RawInput{
			{ParentTransaction: []byte("btc-parent"), Value: 2600000},
		},
	}
}

type mockTransport struct {
	mtx     sync.Mutex
	outcome ports.SendOutcome
	sent    []domain.TradeMessage
	handler ports.MessageHandler
}

func (m *mockTransport) Send(
	_ context.Context, peerAddress string, raw []byte,
) (ports.SendOutcome, error) {
	msg, err := domain.DecodeMessage(raw)
	if err != nil {
		return ports.SendOutcomeFailed, err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.outcome == ports.SendOutcomeFailed {
		return m.outcome, fmt.Errorf("peer %s unreachable", peerAddress)
	}
	m.sent = append(m.sent, msg)
	return m.outcome, nil
}

func (m *mockTransport) RegisterHandler(handler ports.MessageHandler) { m.handler = handler }

func (m *mockTransport) MyAddress() string { return "me.onion:9735" }

func (m *mockTransport) sentMessages() []domain.TradeMessage {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	sent := make([]domain.TradeMessage, len(m.sent))
	copy(sent, m.sent)
	return sent
}

type mockWallet struct {
	mtx         sync.Mutex
	broadcast   []string
	listeners   map[string][]func(txId string)
	listenAddrs []string
}

func newMockWallet() *mockWallet {
	return &mockWallet{listeners: make(map[string][]func(txId string))}
}

func (w *mockWallet) SelectInputs(_ context.Context, amount int64) ([]domain.RawInput, error) {
	return []domain.RawInput{{ParentTransaction: []byte("own-input"), Value: amount}}, nil
}

func (w *mockWallet) BuildTransaction(
	_ context.Context, inputs []domain.RawInput, outputs []domain.TxOutput,
) ([]byte, error) {
	return []byte(fmt.Sprintf("tx(%d-in,%d-out)", len(inputs), len(outputs))), nil
}

func (w *mockWallet) SignTransaction(_ context.Context, tx []byte) ([]byte, error) {
	return tx, nil
}

func (w *mockWallet) BroadcastTransaction(_ context.Context, tx []byte) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.broadcast = append(w.broadcast, string(tx))
	return fmt.Sprintf("txid-%d", len(w.broadcast)), nil
}

func (w *mockWallet) ListenToAddress(
	_ context.Context, address string, onConfirmed func(txId string),
) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.listeners[address] = append(w.listeners[address], onConfirmed)
	w.listenAddrs = append(w.listenAddrs, address)
	return nil
}

func (w *mockWallet) GetAddressBalance(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

func (w *mockWallet) broadcasts(tx string) int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	var count int
	for _, b := range w.broadcast {
		if b == tx {
			count++
		}
	}
	return count
}

func (w *mockWallet) broadcastCount() int {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return len(w.broadcast)
}

func (w *mockWallet) listenedAddress() string {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if len(w.listenAddrs) == 0 {
		return ""
	}
	return w.listenAddrs[0]
}

func (w *mockWallet) confirm(txId string) {
	w.mtx.Lock()
	var callbacks []func(txId string)
	for _, cbs := range w.listeners {
		callbacks = append(callbacks, cbs...)
	}
	w.mtx.Unlock()

	for _, cb := range callbacks {
		cb(txId)
	}
}
