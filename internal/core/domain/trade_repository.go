package domain

import "context"

// TradeRepository defines the persistence layer of trades. A trade is
// persisted after every state transition.
type TradeRepository interface {
	GetOrCreateTrade(ctx context.Context, tradeId, offerId string) (*Trade, error)
	GetTradeById(ctx context.Context, tradeId string) (*Trade, error)
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	UpdateTrade(
		ctx context.Context,
		tradeId string,
		updateFn func(t *Trade) (*Trade, error),
	) error
}
