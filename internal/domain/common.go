package domain

// Side is the direction of a trade.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the direction that reduces a position held on this side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// IsValid reports whether the side is one of the two known directions.
func (s Side) IsValid() bool {
	return s == Long || s == Short
}

// ExecutionMode selects how the entry order is submitted.
type ExecutionMode string

const (
	ExecMarket ExecutionMode = "MARKET"
	ExecLimit  ExecutionMode = "LIMIT"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	StatusOpen       TradeStatus = "OPEN"
	StatusFilled     TradeStatus = "FILLED"
	StatusTP1Hit     TradeStatus = "TP1_HIT"
	StatusTP2Hit     TradeStatus = "TP2_HIT"
	StatusClosed     TradeStatus = "CLOSED"
	StatusCancelled  TradeStatus = "CANCELLED"
	StatusStopLoss   TradeStatus = "STOPLOSS"
	StatusTakeProfit TradeStatus = "TAKEPROFIT"
)

// transitions is the allowed status graph. Statuses absent from the map are terminal.
var transitions = map[TradeStatus][]TradeStatus{
	StatusOpen:   {StatusFilled, StatusCancelled},
	StatusFilled: {StatusTP1Hit, StatusClosed, StatusCancelled, StatusStopLoss, StatusTakeProfit},
	StatusTP1Hit: {StatusTP2Hit, StatusClosed, StatusStopLoss},
	StatusTP2Hit: {StatusClosed, StatusStopLoss},
}

// IsTerminal reports whether no further transition is permitted from s.
func (s TradeStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TradeStatus) CanTransitionTo(next TradeStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsValid reports whether the status is one of the known lifecycle states.
func (s TradeStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusFilled, StatusTP1Hit, StatusTP2Hit,
		StatusClosed, StatusCancelled, StatusStopLoss, StatusTakeProfit:
		return true
	}
	return false
}
