package ports

import (
	"context"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// WalletService is the key-management and transaction-building collaborator.
// Transactions are opaque signed blobs to the trade engine.
type WalletService interface {
	SelectInputs(ctx context.Context, amount int64) ([]domain.RawInput, error)
	BuildTransaction(
		ctx context.Context, inputs []domain.RawInput, outputs []domain.TxOutput,
	) ([]byte, error)
	SignTransaction(ctx context.Context, tx []byte) ([]byte, error)
	BroadcastTransaction(ctx context.Context, tx []byte) (txId string, err error)
	// ListenToAddress invokes onConfirmed once a transaction paying the
	// given address is observed confirmed on chain.
	ListenToAddress(ctx context.Context, address string, onConfirmed func(txId string)) error
	GetAddressBalance(ctx context.Context, address string) (uint64, error)
}
