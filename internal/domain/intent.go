package domain

import (
	"github.com/shopspring/decimal"
)

// OrderIntent is a validated, normalized request to open a position. It is
// produced by the intake layer from an inbound signal; the engine trusts it.
type OrderIntent struct {
	Symbol    string
	Side      Side
	Execution ExecutionMode

	EntryPrice decimal.Decimal // reference price; limit price for ExecLimit
	Notional   decimal.Decimal // quote-currency size of the entry order
	Leverage   int

	TP1Price decimal.Decimal
	TP2Price decimal.Decimal
	TP3Price decimal.Decimal
	SLPrice  decimal.Decimal

	StrategyType string
	BotName      string
}
