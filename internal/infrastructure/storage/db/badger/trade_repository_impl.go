package dbbadger

import (
	"context"

	"github.com/timshannon/badgerhold/v4"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	db *DbManager
}

// NewTradeRepositoryImpl returns a badger backed TradeRepository.
func NewTradeRepositoryImpl(db *DbManager) domain.TradeRepository {
	return tradeRepositoryImpl{
		db: db,
	}
}

func (t tradeRepositoryImpl) GetOrCreateTrade(
	ctx context.Context, tradeId, offerId string,
) (*domain.Trade, error) {
	return t.getOrCreateTrade(tradeId, offerId)
}

func (t tradeRepositoryImpl) GetTradeById(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	return t.getTrade(tradeId)
}

func (t tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	var trades []domain.Trade
	if err := t.db.TradeStore.Find(&trades, nil); err != nil {
		return nil, err
	}

	result := make([]*domain.Trade, 0, len(trades))
	for i := range trades {
		result = append(result, &trades[i])
	}
	return result, nil
}

func (t tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	currentTrade, err := t.getTrade(tradeId)
	if err != nil {
		return err
	}

	updatedTrade, err := updateFn(currentTrade)
	if err != nil {
		return err
	}

	return t.db.TradeStore.Update(updatedTrade.Id, *updatedTrade)
}

func (t tradeRepositoryImpl) getOrCreateTrade(
	tradeId, offerId string,
) (*domain.Trade, error) {
	trade, err := t.getTrade(tradeId)
	if err == nil {
		return trade, nil
	}
	if err != ErrTradeNotFound {
		return nil, err
	}

	trade = domain.NewTrade(offerId)
	trade.Id = tradeId
	if err := t.db.TradeStore.Insert(trade.Id, trade); err != nil {
		if err != badgerhold.ErrKeyExists {
			return nil, err
		}
		return t.getTrade(tradeId)
	}
	return trade, nil
}

func (t tradeRepositoryImpl) getTrade(tradeId string) (*domain.Trade, error) {
	var trade domain.Trade
	if err := t.db.TradeStore.Get(tradeId, &trade); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	return &trade, nil
}
