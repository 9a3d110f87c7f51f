package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// TradeSignal is an inbound, untrusted request to open a position. Field
// names match the upstream signal producers.
type TradeSignal struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Entry        decimal.Decimal `json:"entry"`
	Leverage     int             `json:"leverage"`
	TP1Price     decimal.Decimal `json:"tp1_price"`
	TP2Price     decimal.Decimal `json:"tp2_price"`
	TP3Price     decimal.Decimal `json:"tp3_price"`
	SLPrice      decimal.Decimal `json:"sl_price"`
	StrategyType string          `json:"strategy_type"`
	BotName      string          `json:"bot_name"`
	Execution    string          `json:"execution,omitempty"` // MARKET (default) or LIMIT
}

// Intake validates inbound signals and normalizes them into order intents.
type Intake struct {
	entryNotional   decimal.Decimal
	defaultLeverage int
}

// NewIntake builds the signal intake.
func NewIntake(entryNotional decimal.Decimal, defaultLeverage int) (*Intake, error) {
	if entryNotional.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("entry notional must be positive")
	}
	if defaultLeverage <= 0 {
		return nil, fmt.Errorf("default leverage must be positive")
	}
	return &Intake{entryNotional: entryNotional, defaultLeverage: defaultLeverage}, nil
}

// Normalize validates the signal and produces an intent the engine trusts.
// All validation failures wrap ports.ErrInvalidRequest.
func (i *Intake) Normalize(signal TradeSignal) (domain.OrderIntent, error) {
	var errs []string

	symbol := strings.ToUpper(strings.TrimSpace(signal.Symbol))
	if symbol == "" {
		errs = append(errs, "symbol is required")
	}

	side, err := parseSide(signal.Side)
	if err != nil {
		errs = append(errs, err.Error())
	}

	if signal.Entry.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "entry must be positive")
	}
	if signal.TP1Price.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "tp1_price must be positive")
	}
	if signal.TP2Price.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "tp2_price must be positive")
	}
	if signal.SLPrice.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "sl_price must be positive")
	}
	if signal.TP3Price.IsNegative() {
		errs = append(errs, "tp3_price cannot be negative")
	}
	if signal.BotName == "" {
		errs = append(errs, "bot_name is required")
	}
	if signal.StrategyType == "" {
		errs = append(errs, "strategy_type is required")
	}

	leverage := signal.Leverage
	if leverage == 0 {
		leverage = i.defaultLeverage
	}
	if leverage < 0 {
		errs = append(errs, "leverage cannot be negative")
	}

	execution := domain.ExecMarket
	switch strings.ToUpper(strings.TrimSpace(signal.Execution)) {
	case "", string(domain.ExecMarket):
	case string(domain.ExecLimit):
		execution = domain.ExecLimit
	default:
		errs = append(errs, fmt.Sprintf("unknown execution mode '%s'", signal.Execution))
	}

	// Levels must sit on the profitable side of entry and the stop on the
	// losing side, per direction.
	if len(errs) == 0 {
		switch side {
		case domain.Long:
			if signal.TP1Price.LessThanOrEqual(signal.Entry) {
				errs = append(errs, "tp1_price must be above entry for a long")
			}
			if signal.SLPrice.GreaterThanOrEqual(signal.Entry) {
				errs = append(errs, "sl_price must be below entry for a long")
			}
		case domain.Short:
			if signal.TP1Price.GreaterThanOrEqual(signal.Entry) {
				errs = append(errs, "tp1_price must be below entry for a short")
			}
			if signal.SLPrice.LessThanOrEqual(signal.Entry) {
				errs = append(errs, "sl_price must be above entry for a short")
			}
		}
	}

	if len(errs) > 0 {
		return domain.OrderIntent{}, fmt.Errorf("signal validation failed: %s: %w",
			strings.Join(errs, "; "), ports.ErrInvalidRequest)
	}

	return domain.OrderIntent{
		Symbol:       symbol,
		Side:         side,
		Execution:    execution,
		EntryPrice:   signal.Entry,
		Notional:     i.entryNotional,
		Leverage:     leverage,
		TP1Price:     signal.TP1Price,
		TP2Price:     signal.TP2Price,
		TP3Price:     signal.TP3Price,
		SLPrice:      signal.SLPrice,
		StrategyType: signal.StrategyType,
		BotName:      signal.BotName,
	}, nil
}

func parseSide(raw string) (domain.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return domain.Long, nil
	case "SHORT", "SELL":
		return domain.Short, nil
	default:
		return "", fmt.Errorf("side must be LONG or SHORT, got '%s'", raw)
	}
}
