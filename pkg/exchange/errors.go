package exchange

import "errors"

// Errors returned by the exchange package.
var (
	// ErrExchangeClosed is returned by operations on a closed exchange.
	ErrExchangeClosed = errors.New("exchange: exchange is closed")

	// ErrPendingRetransmit is returned when sending while a reliable
	// message is still unacknowledged.
	ErrPendingRetransmit = errors.New("exchange: reliable message pending")

	// ErrManagerClosed is returned after Manager.Close.
	ErrManagerClosed = errors.New("exchange: manager closed")

	// ErrNoInterface is returned when no transport serves an address type.
	ErrNoInterface = errors.New("exchange: no transport interface for address")

	// ErrExchangeIDExhausted is returned when every exchange ID of a session is in use.
	ErrExchangeIDExhausted = errors.New("exchange: no free exchange ID")
)
