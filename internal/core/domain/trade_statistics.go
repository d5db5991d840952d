package domain

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"
)

// TradeStatisticsV1 is the previous-generation statistics schema still
// arriving from not-yet-upgraded peers. Resolver addresses live in the
// extra-data map, truncated to their first 4 characters.
type TradeStatisticsV1 struct {
	CurrencyCode  string
	TradePrice    int64
	TradeAmount   int64
	PaymentMethod string
	TradeDate     int64
	ExtraData     map[string]string
}

// Hash identifies the logical trade record. The trade date is excluded on
// purpose: the same trade may have been recorded with slightly different
// timestamps by each counterparty, and both records must collapse to one
// entry during migration.
func (s *TradeStatisticsV1) Hash() []byte {
	h := newStatsHasher()
	h.writeString(s.CurrencyCode)
	h.writeInt64(s.TradePrice)
	h.writeInt64(s.TradeAmount)
	h.writeString(s.PaymentMethod)
	return h.sum()
}

// IsValid reports whether the entry carries the minimum data to be usable.
func (s *TradeStatisticsV1) IsValid() bool {
	return s.CurrencyCode != "" && s.TradePrice > 0 && s.TradeAmount > 0 &&
		s.PaymentMethod != ""
}

// TradeStatisticsV2 is the current statistics schema: an append-only,
// content-hash-identified record of a completed trade.
type TradeStatisticsV2 struct {
	CurrencyCode  string
	TradePrice    int64
	TradeAmount   int64
	PaymentMethod string
	TradeDate     int64
	Mediator      string
	Arbitrator    string

	// PresetHash, when not empty, overrides the computed hash. Entries
	// converted from v1 network payloads keep the v1 hash so that the same
	// logical record received from two not-yet-upgraded peers is stored once.
	PresetHash []byte
}

// Hash returns the content hash identifying the entry in the append-only
// store. Resolver fields are excluded since they get pruned over time.
func (s *TradeStatisticsV2) Hash() []byte {
	if len(s.PresetHash) > 0 {
		return s.PresetHash
	}

	h := newStatsHasher()
	h.writeString(s.CurrencyCode)
	h.writeInt64(s.TradePrice)
	h.writeInt64(s.TradeAmount)
	h.writeString(s.PaymentMethod)
	h.writeInt64(s.TradeDate)
	return h.sum()
}

// IsValid reports whether the entry carries the minimum data to be usable.
func (s *TradeStatisticsV2) IsValid() bool {
	return s.CurrencyCode != "" && s.TradePrice > 0 && s.TradeAmount > 0 &&
		s.PaymentMethod != "" && s.TradeDate > 0
}

// PruneResolverData erases the resolver identity fields. Applied to all but
// the most recent entries to limit long-term exposure of which resolver
// handled a given peer's disputes.
func (s *TradeStatisticsV2) PruneResolverData() {
	s.Mediator = ""
	s.Arbitrator = ""
}

// Price returns the trade price as a decimal.
func (s *TradeStatisticsV2) Price() decimal.Decimal {
	return decimal.New(s.TradePrice, -PricePrecision)
}

type statsHasher struct {
	buf []byte
}

func newStatsHasher() *statsHasher {
	return &statsHasher{buf: make([]byte, 0, 64)}
}

func (h *statsHasher) writeString(s string) {
	h.writeInt64(int64(len(s)))
	h.buf = append(h.buf, s...)
}

func (h *statsHasher) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	h.buf = append(h.buf, b[:]...)
}

func (h *statsHasher) sum() []byte {
	return chainhash.HashB(h.buf)
}
