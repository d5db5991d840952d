package application

import "errors"

var (
	// ErrEmptyResolverSet is thrown when selecting a dispute resolver from
	// an empty set of available resolvers.
	ErrEmptyResolverSet = errors.New("resolver set must not be empty")
	// ErrResponseTimeout is the generic cause a pending operation is failed
	// with when the peer's response does not arrive within the deadline. The
	// peer does not transmit a structured reason.
	ErrResponseTimeout = errors.New("timeout: no response from peer within deadline")
	// ErrSendFailed is thrown when neither direct delivery nor the mailbox
	// fallback succeeded.
	ErrSendFailed = errors.New("message could not be delivered nor stored in mailbox")
	// ErrNoMakerReceiveAddress is thrown by the atomic variant when no
	// receive address is available for the asset the maker is due.
	ErrNoMakerReceiveAddress = errors.New("no maker receive address to listen on")
	// ErrInsufficientTakerInputs is thrown by the atomic variant when the
	// taker-provided inputs do not cover the declared outputs and fees.
	ErrInsufficientTakerInputs = errors.New("taker inputs do not cover outputs and fees")
)
