package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeUpdate is one append-only audit entry. A row is written for every
// status transition and every stop-loss move; rows are never updated.
type TradeUpdate struct {
	ID        int64
	TradeID   int64
	Status    TradeStatus
	StopLoss  decimal.Decimal
	Price     decimal.Decimal // price observed when the update was recorded
	Reason    string
	CreatedAt time.Time
}
