package ports

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// TradeFilter narrows ListTrades results. Zero values match everything.
type TradeFilter struct {
	BotName string
	Status  domain.TradeStatus
}

// TradeRepository persists trades. Lookups return (nil, nil) when no row
// matches; errors are reserved for store failures.
type TradeRepository interface {
	// Create inserts the trade and assigns its id.
	Create(ctx context.Context, trade *domain.Trade) error

	// Update overwrites all mutable fields of the trade.
	Update(ctx context.Context, trade *domain.Trade) error

	// SetTakeProfitOrderID records the exchange id of one ladder leg.
	SetTakeProfitOrderID(ctx context.Context, tradeID int64, leg int, orderID string) error

	// FindByID fetches one trade.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)

	// FindByOrderID fetches the trade owning orderID as its entry or one of
	// its take-profit legs.
	FindByOrderID(ctx context.Context, orderID string) (*domain.Trade, error)

	// FindActive returns all trades not in a terminal status.
	FindActive(ctx context.Context) ([]*domain.Trade, error)

	// FindOpenOlderThan returns OPEN trades created before cutoff.
	FindOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Trade, error)

	// FindAll returns trades matching the filter, newest first.
	FindAll(ctx context.Context, filter TradeFilter) ([]*domain.Trade, error)
}

// TradeUpdateLogRepository is the append-only audit trail.
type TradeUpdateLogRepository interface {
	// Append writes one audit entry.
	Append(ctx context.Context, update *domain.TradeUpdate) error

	// FindByTradeID returns a trade's audit entries oldest first.
	FindByTradeID(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error)
}
