package ports

import "errors"

// Sentinel errors shared across the application. Adapters translate
// infrastructure failures into these; callers branch with errors.Is.
var (
	// ErrInvalidRequest indicates an inbound command failed validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTradeNotFound indicates the requested trade does not exist.
	ErrTradeNotFound = errors.New("trade not found")

	// ErrInvalidTransition indicates a status change not permitted by the
	// lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrOrderPlacementFailed indicates the exchange rejected an order.
	ErrOrderPlacementFailed = errors.New("order placement failed")

	// ErrOrderCancelFailed indicates the exchange rejected a cancellation.
	ErrOrderCancelFailed = errors.New("order cancellation failed")

	// ErrOrderNotFound indicates the exchange does not know the order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrPositionAlreadyClosed indicates the exchange reports no open
	// position for a close request. Close paths treat it as success.
	ErrPositionAlreadyClosed = errors.New("position already closed")

	// ErrInsufficientBalance indicates the account cannot cover the order.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrRateLimited indicates the exchange is throttling requests.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrExchangeUnavailable indicates a transport-level exchange failure.
	ErrExchangeUnavailable = errors.New("exchange unavailable")

	// ErrDBConnection indicates the store is unreachable after retries.
	ErrDBConnection = errors.New("database connection error")

	// ErrQueryFailed indicates a store operation failed after retries.
	ErrQueryFailed = errors.New("database query failed")
)
