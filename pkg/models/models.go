package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrImmutableRow is returned by hooks on append-only tables.
var ErrImmutableRow = errors.New("row is append-only")

// User represents an account holder; authentication lives outside the core.
type User struct {
	ID         uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Username   string    `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email      string    `json:"email" gorm:"uniqueIndex;size:254;not null"`
	FullName   string    `json:"full_name" gorm:"size:100"`
	IsActive   bool      `json:"is_active" gorm:"not null"`
	IsVerified bool      `json:"is_verified" gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TradingSession groups orders and positions under one user and one broker configuration.
type TradingSession struct {
	ID             uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID       `json:"user_id" gorm:"type:uuid;index;not null"`
	User           *User           `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	SessionName    string          `json:"session_name" gorm:"size:100;not null"`
	BrokerType     string          `json:"broker_type" gorm:"size:20;not null"` // KITE, UPSTOX, PAPER
	BrokerConfig   JSON            `json:"broker_config"`
	InitialCapital decimal.Decimal `json:"initial_capital" gorm:"type:numeric(18,4);not null"`
	IsActive       bool            `json:"is_active" gorm:"not null"`
	IsPaperTrading bool            `json:"is_paper_trading" gorm:"not null"`
	Halted         bool            `json:"halted" gorm:"not null"`
	HaltReason     string          `json:"halt_reason" gorm:"type:text"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Order is a single client request to buy or sell an instrument.
// Side is persisted in the order_type column to keep the broker-facing schema.
type Order struct {
	ID                 uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	TradingSessionID   uuid.UUID        `json:"trading_session_id" gorm:"type:uuid;index;not null"`
	TradingSession     *TradingSession  `json:"-" gorm:"foreignKey:TradingSessionID;constraint:OnDelete:RESTRICT"`
	ClientOrderID      string           `json:"client_order_id" gorm:"uniqueIndex;size:100;not null"`
	BrokerOrderID      *string          `json:"broker_order_id" gorm:"index;size:100"`
	InstrumentToken    string           `json:"instrument_token" gorm:"index;size:50;not null"`
	InstrumentName     string           `json:"instrument_name" gorm:"size:100;not null"`
	Exchange           string           `json:"exchange" gorm:"size:10;not null"`
	Side               string           `json:"side" gorm:"column:order_type;size:10;not null"`
	ProductType        string           `json:"product_type" gorm:"size:10;not null"`
	Variety            string           `json:"variety" gorm:"size:20;not null"`
	Pricing            string           `json:"pricing" gorm:"size:10;not null"`
	Quantity           int64            `json:"quantity" gorm:"not null"`
	Price              *decimal.Decimal `json:"price" gorm:"type:numeric(18,4)"`
	TriggerPrice       *decimal.Decimal `json:"trigger_price" gorm:"type:numeric(18,4)"`
	Status             string           `json:"status" gorm:"index;size:20;not null"`
	FilledQuantity     int64            `json:"filled_quantity" gorm:"not null"`
	AveragePrice       decimal.Decimal  `json:"average_price" gorm:"type:numeric(18,4);not null"`
	AlgoID             string           `json:"algo_id" gorm:"size:50;not null"`
	StrategyName       string           `json:"strategy_name" gorm:"size:100"`
	RiskParameters     JSON             `json:"risk_parameters"`
	OrderTimestamp     time.Time        `json:"order_timestamp" gorm:"index;not null"`
	FilledTimestamp    *time.Time       `json:"filled_timestamp"`
	CancelledTimestamp *time.Time       `json:"cancelled_timestamp"`
	BrokerResponse     JSON             `json:"broker_response"`
	ErrorMessage       string           `json:"error_message" gorm:"type:text"`
	Version            int64            `json:"version" gorm:"not null"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// OrderFill is an immutable execution event against an order.
type OrderFill struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	OrderID       uuid.UUID       `json:"order_id" gorm:"type:uuid;not null;uniqueIndex:idx_order_fill_broker,priority:1;index"`
	Order         *Order          `json:"-" gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT"`
	BrokerFillID  *string         `json:"broker_fill_id" gorm:"size:100;uniqueIndex:idx_order_fill_broker,priority:2"`
	Sequence      int             `json:"sequence" gorm:"not null"`
	Quantity      int64           `json:"fill_quantity" gorm:"column:fill_quantity;not null"`
	Price         decimal.Decimal `json:"fill_price" gorm:"column:fill_price;type:numeric(18,4);not null"`
	FillTimestamp time.Time       `json:"fill_timestamp" gorm:"not null"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (OrderFill) BeforeUpdate(*gorm.DB) error { return ErrImmutableRow }
func (OrderFill) BeforeDelete(*gorm.DB) error { return ErrImmutableRow }

// Position is the net holding of one instrument within one trading session.
type Position struct {
	ID               uuid.UUID        `json:"id" gorm:"primaryKey;type:uuid"`
	TradingSessionID uuid.UUID        `json:"trading_session_id" gorm:"type:uuid;not null;uniqueIndex:idx_position_session_instrument,priority:1"`
	TradingSession   *TradingSession  `json:"-" gorm:"foreignKey:TradingSessionID;constraint:OnDelete:RESTRICT"`
	InstrumentToken  string           `json:"instrument_token" gorm:"size:50;not null;uniqueIndex:idx_position_session_instrument,priority:2"`
	InstrumentName   string           `json:"instrument_name" gorm:"size:100;not null"`
	Exchange         string           `json:"exchange" gorm:"size:10;not null"`
	ProductType      string           `json:"product_type" gorm:"size:10;not null"`
	Quantity         int64            `json:"quantity" gorm:"not null"`
	AveragePrice     decimal.Decimal  `json:"average_price" gorm:"type:numeric(18,4);not null"`
	CurrentPrice     *decimal.Decimal `json:"current_price" gorm:"type:numeric(18,4)"`
	UnrealizedPnl    decimal.Decimal  `json:"unrealized_pnl" gorm:"type:numeric(18,4);not null"`
	RealizedPnl      decimal.Decimal  `json:"realized_pnl" gorm:"type:numeric(18,4);not null"`
	MarginUsed       decimal.Decimal  `json:"margin_used" gorm:"type:numeric(18,4);not null"`
	Exposure         decimal.Decimal  `json:"exposure" gorm:"type:numeric(18,4);not null"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PortfolioSnapshot is a point-in-time rollup of a session. Rows are never mutated.
type PortfolioSnapshot struct {
	ID                uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	TradingSessionID  uuid.UUID       `json:"trading_session_id" gorm:"type:uuid;not null;index:idx_snapshot_session_time,priority:1"`
	TradingSession    *TradingSession `json:"-" gorm:"foreignKey:TradingSessionID;constraint:OnDelete:RESTRICT"`
	TotalValue        decimal.Decimal `json:"total_value" gorm:"type:numeric(18,4);not null"`
	AvailableCash     decimal.Decimal `json:"available_cash" gorm:"type:numeric(18,4);not null"`
	UsedMargin        decimal.Decimal `json:"used_margin" gorm:"type:numeric(18,4);not null"`
	TotalPnl          decimal.Decimal `json:"total_pnl" gorm:"type:numeric(18,4);not null"`
	DayPnl            decimal.Decimal `json:"day_pnl" gorm:"type:numeric(18,4);not null"`
	RealizedPnl       decimal.Decimal `json:"realized_pnl" gorm:"type:numeric(18,4);not null"`
	UnrealizedPnl     decimal.Decimal `json:"unrealized_pnl" gorm:"type:numeric(18,4);not null"`
	Var95             decimal.Decimal `json:"var_95" gorm:"column:var_95;type:numeric(18,4);not null"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown" gorm:"type:numeric(10,6);not null"`
	SharpeRatio       decimal.Decimal `json:"sharpe_ratio" gorm:"type:numeric(10,6);not null"`
	SnapshotTimestamp time.Time       `json:"snapshot_timestamp" gorm:"not null;index:idx_snapshot_session_time,priority:2"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (PortfolioSnapshot) BeforeUpdate(*gorm.DB) error { return ErrImmutableRow }
func (PortfolioSnapshot) BeforeDelete(*gorm.DB) error { return ErrImmutableRow }

// RiskEvent is a detected breach or warning. Only the resolution fields change after creation.
type RiskEvent struct {
	ID               uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	TradingSessionID uuid.UUID       `json:"trading_session_id" gorm:"type:uuid;index;not null"`
	TradingSession   *TradingSession `json:"-" gorm:"foreignKey:TradingSessionID;constraint:OnDelete:RESTRICT"`
	EventType        string          `json:"event_type" gorm:"size:50;not null"`
	Severity         string          `json:"severity" gorm:"size:20;not null"`
	Message          string          `json:"message" gorm:"type:text;not null"`
	Parameters       JSON            `json:"parameters"`
	DedupKey         string          `json:"dedup_key" gorm:"index;size:150;not null"`
	IsResolved       bool            `json:"is_resolved" gorm:"index;not null"`
	ResolvedAt       *time.Time      `json:"resolved_at"`
	ResolvedBy       string          `json:"resolved_by" gorm:"size:100"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AuditLog is an immutable record of one state-changing action.
type AuditLog struct {
	ID               uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID           *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	TradingSessionID *uuid.UUID `json:"trading_session_id" gorm:"type:uuid;index"`
	Action           string     `json:"action" gorm:"size:100;not null"`
	ResourceType     string     `json:"resource_type" gorm:"size:50;not null;index:idx_audit_resource,priority:1"`
	ResourceID       string     `json:"resource_id" gorm:"size:100;not null;index:idx_audit_resource,priority:2"`
	Actor            string     `json:"actor" gorm:"size:100;not null"`
	IPAddress        string     `json:"ip_address" gorm:"size:45"`
	UserAgent        string     `json:"user_agent" gorm:"type:text"`
	RequestID        string     `json:"request_id" gorm:"size:100"`
	OldValues        JSON       `json:"old_values"`
	NewValues        JSON       `json:"new_values"`
	ContentHash      string     `json:"content_hash" gorm:"size:64;not null"`
	CreatedAt        time.Time  `json:"created_at" gorm:"index"`
}

func (AuditLog) BeforeUpdate(*gorm.DB) error { return ErrImmutableRow }
func (AuditLog) BeforeDelete(*gorm.DB) error { return ErrImmutableRow }

// SystemMetric is written once per scheduler cycle.
type SystemMetric struct {
	ID              uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	MemoryUsageMB   float64   `json:"memory_usage_mb"`
	HeapInUseMB     float64   `json:"heap_in_use_mb"`
	Goroutines      int       `json:"goroutines"`
	OrdersPerSecond float64   `json:"orders_per_second"`
	ActiveOrders    int64     `json:"active_orders"`
	TotalOrders     int64     `json:"total_orders"`
	SessionsChecked int       `json:"sessions_checked"`
	CycleDurationMs int64     `json:"cycle_duration_ms"`
	RecordedAt      time.Time `json:"recorded_at" gorm:"index;not null"`
}

// Configuration holds runtime overrides, read once per evaluation cycle.
type Configuration struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Key         string    `json:"key" gorm:"uniqueIndex;size:100;not null"`
	Value       JSON      `json:"value"`
	Description string    `json:"description" gorm:"type:text"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&TradingSession{},
		&Order{},
		&OrderFill{},
		&Position{},
		&PortfolioSnapshot{},
		&RiskEvent{},
		&AuditLog{},
		&SystemMetric{},
		&Configuration{},
	}
}
