package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// devWalletService is a self-contained wallet used until the daemon is wired
// to a real wallet backend. It funds any requested amount from synthetic
// inputs and reports a broadcast transaction confirmed to its address
// listeners right away.
type devWalletService struct {
	mtx       sync.Mutex
	listeners map[string][]func(txId string)
	balances  map[string]uint64
}

func newDevWalletService() ports.WalletService {
	return &devWalletService{
		listeners: make(map[string][]func(txId string)),
		balances:  make(map[string]uint64),
	}
}

func (w *devWalletService) SelectInputs(
	_ context.Context, amount int64,
) ([]domain.RawInput, error) {
	return []domain.RawInput{{
		ParentTransaction: []byte(uuid.New().String()),
		Index:             0,
		Value:             amount,
	}}, nil
}

func (w *devWalletService) BuildTransaction(
	_ context.Context, inputs []domain.RawInput, outputs []domain.TxOutput,
) ([]byte, error) {
	return json.Marshal(struct {
		Inputs  []domain.RawInput `json:"inputs"`
		Outputs []domain.TxOutput `json:"outputs"`
	}{inputs, outputs})
}

func (w *devWalletService) SignTransaction(_ context.Context, tx []byte) ([]byte, error) {
	return tx, nil
}

func (w *devWalletService) BroadcastTransaction(_ context.Context, tx []byte) (string, error) {
	txId := uuid.New().String()

	var decoded struct {
		Outputs []domain.TxOutput `json:"outputs"`
	}
	// Fee and deposit transactions carry no decodable outputs, nothing to
	// notify for those.
	if err := json.Unmarshal(tx, &decoded); err != nil {
		return txId, nil
	}

	w.mtx.Lock()
	var confirmed []func(txId string)
	for _, out := range decoded.Outputs {
		w.balances[out.Address] += uint64(out.Value)
		confirmed = append(confirmed, w.listeners[out.Address]...)
	}
	w.mtx.Unlock()

	for _, onConfirmed := range confirmed {
		onConfirmed(txId)
	}
	return txId, nil
}

func (w *devWalletService) ListenToAddress(
	_ context.Context, address string, onConfirmed func(txId string),
) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	w.listeners[address] = append(w.listeners[address], onConfirmed)
	return nil
}

func (w *devWalletService) GetAddressBalance(
	_ context.Context, address string,
) (uint64, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.balances[address], nil
}
