package domain

import "errors"

var (
	// ErrTradeIdMismatch is thrown when a message carries a trade id not
	// matching the trade it was dispatched to.
	ErrTradeIdMismatch = errors.New("message trade id does not match the trade")
	// ErrTradeAlreadyDisputed is thrown when trying to run an operation that
	// is forbidden once a dispute has started.
	ErrTradeAlreadyDisputed = errors.New("a dispute has already started for this trade")
	// ErrTradeNotDisputed ...
	ErrTradeNotDisputed = errors.New("trade is not disputed")
	// ErrTradePayoutNotSet is thrown when trying to send a payout message
	// before the payout transaction has been created.
	ErrTradePayoutNotSet = errors.New("payout transaction is not set")
	// ErrTradeMustBeDepositPublished ...
	ErrTradeMustBeDepositPublished = errors.New("trade must be in deposit published status")
	// ErrTradeMustBeFiatSent ...
	ErrTradeMustBeFiatSent = errors.New("trade must be in fiat sent status")
	// ErrTradeMustBeTakerFeePublished ...
	ErrTradeMustBeTakerFeePublished = errors.New("trade must be in taker fee published status")
	// ErrTradeCompleted is thrown when trying to mutate a trade that already
	// reached its terminal status.
	ErrTradeCompleted = errors.New("trade is already completed")
	// ErrInvalidMessage is thrown when a message misses a required field.
	ErrInvalidMessage = errors.New("message is missing one or more required fields")
	// ErrUnknownMessageRoute is thrown when decoding an envelope with an
	// unhandled route.
	ErrUnknownMessageRoute = errors.New("unknown message route")
	// ErrNullPayload ...
	ErrNullPayload = errors.New("payload must not be null")
	// ErrInvalidPayload is thrown when an append-only payload fails its
	// self-validation.
	ErrInvalidPayload = errors.New("payload is not valid")
	// ErrOwnershipProof is thrown when a protected entry mutation cannot
	// prove ownership of the stored entry.
	ErrOwnershipProof = errors.New("entry owner key does not match payload owner")
)
