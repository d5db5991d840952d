package dbbadger

import "errors"

var (
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrLegacyStoreGone is thrown when reading the legacy statistics store
	// after it has already been migrated and deleted.
	ErrLegacyStoreGone = errors.New("legacy statistics store does not exist")
)
