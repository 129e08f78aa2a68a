package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Standard event topics
const (
	TopicOrder    = "order"
	TopicFill     = "fill"
	TopicPosition = "position"
	TopicRisk     = "risk"
	TopicHalt     = "halt"
)

// OrderEvent is published for every committed order transition.
type OrderEvent struct {
	OrderID          string          `json:"order_id"`
	ClientOrderID    string          `json:"client_order_id"`
	TradingSessionID string          `json:"trading_session_id"`
	InstrumentToken  string          `json:"instrument_token"`
	Side             string          `json:"side"`
	Status           string          `json:"status"`
	Quantity         int64           `json:"quantity"`
	FilledQuantity   int64           `json:"filled_quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	Timestamp        time.Time       `json:"timestamp"`
}

// FillEvent is published once per applied (non-duplicate) fill.
type FillEvent struct {
	OrderID          string          `json:"order_id"`
	TradingSessionID string          `json:"trading_session_id"`
	BrokerFillID     string          `json:"broker_fill_id,omitempty"`
	Quantity         int64           `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	Timestamp        time.Time       `json:"timestamp"`
}

// PositionEvent carries the position state after a fill or mark.
type PositionEvent struct {
	TradingSessionID string          `json:"trading_session_id"`
	InstrumentToken  string          `json:"instrument_token"`
	Quantity         int64           `json:"quantity"`
	AveragePrice     decimal.Decimal `json:"average_price"`
	UnrealizedPnl    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnl      decimal.Decimal `json:"realized_pnl"`
	Timestamp        time.Time       `json:"timestamp"`
}

// RiskEvent is published when a breach is recorded.
type RiskEvent struct {
	RiskEventID      string    `json:"risk_event_id"`
	TradingSessionID string    `json:"trading_session_id"`
	EventType        string    `json:"event_type"`
	Severity         string    `json:"severity"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
}

// HaltEvent is the trading halt (or resume) signal.
type HaltEvent struct {
	TradingSessionID string    `json:"trading_session_id"`
	Halted           bool      `json:"halted"`
	Reason           string    `json:"reason"`
	RiskEventID      string    `json:"risk_event_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
