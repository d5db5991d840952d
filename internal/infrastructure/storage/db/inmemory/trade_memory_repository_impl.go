package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// ErrTradeNotFound ...
var ErrTradeNotFound = errors.New("trade not found")

type tradeRepositoryImpl struct {
	locker sync.Mutex
	trades map[string]domain.Trade
}

// NewTradeRepositoryImpl returns a new inmemory TradeRepository implementation.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{
		trades: make(map[string]domain.Trade),
	}
}

func (r *tradeRepositoryImpl) GetOrCreateTrade(
	_ context.Context, tradeId, offerId string,
) (*domain.Trade, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	return r.getOrCreateTrade(tradeId, offerId), nil
}

func (r *tradeRepositoryImpl) GetTradeById(
	_ context.Context, tradeId string,
) (*domain.Trade, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	trade, ok := r.trades[tradeId]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return &trade, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(_ context.Context) ([]*domain.Trade, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	trades := make([]*domain.Trade, 0, len(r.trades))
	for id := range r.trades {
		trade := r.trades[id]
		trades = append(trades, &trade)
	}
	return trades, nil
}

func (r *tradeRepositoryImpl) UpdateTrade(
	_ context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	currentTrade := r.getOrCreateTrade(tradeId, "")

	updatedTrade, err := updateFn(currentTrade)
	if err != nil {
		return err
	}

	r.trades[updatedTrade.Id] = *updatedTrade
	return nil
}

func (r *tradeRepositoryImpl) getOrCreateTrade(tradeId, offerId string) *domain.Trade {
	if trade, ok := r.trades[tradeId]; ok {
		return &trade
	}

	trade := domain.NewTrade(offerId)
	trade.Id = tradeId
	r.trades[trade.Id] = *trade
	return trade
}
