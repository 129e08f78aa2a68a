// Package lifecycle drives orders through PENDING, OPEN, COMPLETE, CANCELLED
// and REJECTED, applying fills and their position effects atomically.
package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionUpdater applies a fill to positions inside the fill's transaction;
// *portfolio.Aggregator implements it.
type PositionUpdater interface {
	ApplyFill(ctx context.Context, tx *repository.Tx, actor model.Actor, order *models.Order, fill *models.OrderFill, limits config.RiskLimits) (*models.Position, error)
}

// FillInput is one execution reported against an order.
type FillInput struct {
	OrderID      uuid.UUID
	Quantity     int64
	Price        decimal.Decimal
	BrokerFillID string
	Timestamp    time.Time
}

// BrokerFill is an asynchronous fill notification addressed by broker order id.
type BrokerFill struct {
	BrokerOrderID string          `json:"broker_order_id" validate:"required"`
	Quantity      int64           `json:"quantity" validate:"gt=0"`
	Price         decimal.Decimal `json:"price"`
	BrokerFillID  string          `json:"broker_fill_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FillResult is the outcome of ApplyFill. Duplicate is set when the broker
// fill id had already been applied; nothing changed in that case.
type FillResult struct {
	Order     *models.Order
	Fill      *models.OrderFill
	Position  *models.Position
	Duplicate bool
}

// Manager manages the complete lifecycle of orders. Each operation runs in one
// ledger transaction serialized per trading session.
type Manager struct {
	store      *repository.Store
	recorder   audit.Recorder
	positions  PositionUpdater
	limits     config.LimitsSource
	policy     config.TradingPolicy
	validators []OrderValidator
	bus        events.EventBus
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates a lifecycle manager with the session and exchange
// validators installed. bus may be nil.
func NewManager(store *repository.Store, recorder audit.Recorder, positions PositionUpdater, limits config.LimitsSource,
	policy config.TradingPolicy, bus events.EventBus, logger *zap.Logger) *Manager {
	return &Manager{
		store:      store,
		recorder:   recorder,
		positions:  positions,
		limits:     limits,
		policy:     policy,
		validators: []OrderValidator{SessionValidator{}, ExchangeValidator{}},
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// AddValidator adds an order validator
func (m *Manager) AddValidator(v OrderValidator) {
	m.validators = append(m.validators, v)
}

// WithClock replaces the time source for order timestamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC()
}

// Submit validates a request and stores it as a PENDING order. A missing
// client order id is generated as "{algo_id}_{ULID}".
func (m *Manager) Submit(ctx context.Context, actor model.Actor, sessionID uuid.UUID, req model.OrderRequest) (*models.Order, error) {
	req.Normalize()
	if req.StrategyName == "" {
		req.StrategyName = m.policy.StrategyName
	}
	params, err := req.Validate()
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:               uuid.New(),
		TradingSessionID: sessionID,
		ClientOrderID:    req.ClientOrderID,
		InstrumentToken:  req.InstrumentToken,
		InstrumentName:   req.InstrumentName,
		Exchange:         req.Exchange,
		Side:             req.Side,
		ProductType:      req.ProductType,
		Variety:          req.Variety,
		Pricing:          req.Pricing,
		Quantity:         req.Quantity,
		Price:            req.Price,
		TriggerPrice:     req.TriggerPrice,
		Status:           model.OrderStatusPending,
		AlgoID:           req.AlgoID,
		StrategyName:     req.StrategyName,
		OrderTimestamp:   m.timestamp(),
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = model.NewClientOrderID(req.AlgoID)
	}
	if params != nil {
		if order.RiskParameters, err = models.NewJSON(params); err != nil {
			return nil, errors.Validation.Explain("invalid risk parameters").Wrap(err)
		}
	}

	err = m.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, v := range m.validators {
			if err := v.ValidateOrder(ctx, session, order); err != nil {
				m.logger.Info("Order rejected by validator",
					zap.String("validator", v.Name()),
					zap.String("client_order_id", order.ClientOrderID),
					zap.Error(err))
				return err
			}
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := m.recordOrder(ctx, tx, actor, audit.ActionOrderSubmitted, nil, order); err != nil {
			return err
		}
		m.publishOrder(ctx, tx, audit.ActionOrderSubmitted, order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// MarkAccepted moves a PENDING order to OPEN once the broker has acknowledged it.
func (m *Manager) MarkAccepted(ctx context.Context, actor model.Actor, orderID uuid.UUID, brokerOrderID string, brokerResponse interface{}) (*models.Order, error) {
	if brokerOrderID == "" {
		return nil, errors.Validation.Explain("broker order id is required").WithField("required", "broker_order_id", "broker order id is required")
	}
	return m.transition(ctx, actor, orderID, model.OrderStatusOpen, audit.ActionOrderAccepted, func(order *models.Order) error {
		id := brokerOrderID
		order.BrokerOrderID = &id
		return setBrokerResponse(order, brokerResponse)
	})
}

// Cancel moves a PENDING or OPEN order to CANCELLED. Fills already applied stay.
func (m *Manager) Cancel(ctx context.Context, actor model.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	return m.transition(ctx, actor, orderID, model.OrderStatusCancelled, audit.ActionOrderCancelled, func(order *models.Order) error {
		ts := m.timestamp()
		order.CancelledTimestamp = &ts
		if reason != "" {
			order.ErrorMessage = reason
		}
		return nil
	})
}

// Reject moves a PENDING order to REJECTED with the broker's reason.
func (m *Manager) Reject(ctx context.Context, actor model.Actor, orderID uuid.UUID, reason string, brokerResponse interface{}) (*models.Order, error) {
	return m.transition(ctx, actor, orderID, model.OrderStatusRejected, audit.ActionOrderRejected, func(order *models.Order) error {
		order.ErrorMessage = reason
		return setBrokerResponse(order, brokerResponse)
	})
}

func (m *Manager) transition(ctx context.Context, actor model.Actor, orderID uuid.UUID, to, action string, mutate func(*models.Order) error) (*models.Order, error) {
	current, err := m.store.Reader().GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = m.store.InTx(ctx, repository.SessionKey(current.TradingSessionID), func(tx *repository.Tx) error {
		var err error
		if order, err = tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		if err := checkTransition(order, to); err != nil {
			return err
		}
		before := *order
		order.Status = to
		if err := mutate(order); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := m.recordOrder(ctx, tx, actor, action, &before, order); err != nil {
			return err
		}
		m.publishOrder(ctx, tx, action, order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyFill records one execution against an OPEN order: the fill row, the
// order's filled quantity and VWAP, the position and its risk evaluation all
// commit together or not at all. A repeated broker fill id is ignored.
func (m *Manager) ApplyFill(ctx context.Context, actor model.Actor, in FillInput) (*FillResult, error) {
	if in.Quantity <= 0 {
		return nil, errors.Validation.Explain("fill quantity must be positive").WithField("gt", "quantity", "must be positive")
	}
	if !in.Price.IsPositive() {
		return nil, errors.Validation.Explain("fill price must be positive").WithField("gt", "price", "must be positive")
	}

	current, err := m.store.Reader().GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	limits, err := m.limits.Limits(ctx)
	if err != nil {
		return nil, errors.Storage.Explain("failed to load risk limits").Wrap(err)
	}

	var result *FillResult
	err = m.store.InTx(ctx, repository.SessionKey(current.TradingSessionID), func(tx *repository.Tx) error {
		result = &FillResult{}
		order, err := tx.LockOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		result.Order = order

		if in.BrokerFillID != "" {
			seen, err := tx.FillExists(ctx, order.ID, in.BrokerFillID)
			if err != nil {
				return err
			}
			if seen {
				result.Duplicate = true
				return nil
			}
		}

		if order.Status != model.OrderStatusOpen {
			return errors.InvalidTransition.Explain("order %s is %s and cannot be filled", order.ID, model.DerivedStatus(order))
		}
		if order.FilledQuantity+in.Quantity > order.Quantity {
			return errors.Overfill.Explain("fill of %d on order %s exceeds remaining %d",
				in.Quantity, order.ID, model.Remaining(order))
		}

		fills, err := tx.ListFills(ctx, order.ID)
		if err != nil {
			return err
		}
		ts := in.Timestamp.UTC()
		if in.Timestamp.IsZero() {
			ts = m.timestamp()
		}
		fill := &models.OrderFill{
			OrderID:       order.ID,
			Sequence:      len(fills) + 1,
			Quantity:      in.Quantity,
			Price:         in.Price,
			FillTimestamp: ts,
		}
		if in.BrokerFillID != "" {
			id := in.BrokerFillID
			fill.BrokerFillID = &id
		}
		if err := tx.AppendFill(ctx, fill); err != nil {
			return err
		}
		result.Fill = fill

		before := *order
		filled := decimal.NewFromInt(order.FilledQuantity)
		added := decimal.NewFromInt(in.Quantity)
		order.AveragePrice = order.AveragePrice.Mul(filled).Add(in.Price.Mul(added)).
			Div(filled.Add(added)).Round(4)
		order.FilledQuantity += in.Quantity
		if order.FilledQuantity == order.Quantity {
			order.Status = model.OrderStatusComplete
			order.FilledTimestamp = &ts
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if err := m.recordOrder(ctx, tx, actor, audit.ActionOrderFilled, &before, order); err != nil {
			return err
		}

		if result.Position, err = m.positions.ApplyFill(ctx, tx, actor, order, fill, limits); err != nil {
			return err
		}
		m.publishOrder(ctx, tx, audit.ActionOrderFilled, order)
		m.publishFill(ctx, tx, order, fill)
		return nil
	})
	if err != nil {
		metrics.FillsApplied.WithLabelValues(fillOutcome(err)).Inc()
		return nil, err
	}
	if result.Duplicate {
		metrics.FillsApplied.WithLabelValues("duplicate").Inc()
		m.logger.Info("Duplicate fill ignored",
			zap.String("order_id", in.OrderID.String()),
			zap.String("broker_fill_id", in.BrokerFillID))
	} else {
		metrics.FillsApplied.WithLabelValues("applied").Inc()
	}
	return result, nil
}

// ApplyFillByBrokerID resolves a broker fill notification to its order and
// applies it.
func (m *Manager) ApplyFillByBrokerID(ctx context.Context, actor model.Actor, fill BrokerFill) (*FillResult, error) {
	if fill.BrokerOrderID == "" {
		return nil, errors.Validation.Explain("broker order id is required").WithField("required", "broker_order_id", "broker order id is required")
	}
	order, err := m.store.Reader().GetOrderByBrokerID(ctx, fill.BrokerOrderID)
	if err != nil {
		return nil, err
	}
	return m.ApplyFill(ctx, actor, FillInput{
		OrderID:      order.ID,
		Quantity:     fill.Quantity,
		Price:        fill.Price,
		BrokerFillID: fill.BrokerFillID,
		Timestamp:    fill.Timestamp,
	})
}

// Fills returns the fills of an order in arrival order.
func (m *Manager) Fills(ctx context.Context, orderID uuid.UUID) ([]models.OrderFill, error) {
	return m.store.Reader().ListFills(ctx, orderID)
}

func (m *Manager) recordOrder(ctx context.Context, tx *repository.Tx, actor model.Actor, action string, before, after *models.Order) error {
	entry := audit.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: audit.ResourceOrder,
		ResourceID:   after.ID.String(),
		SessionID:    &after.TradingSessionID,
		NewValues:    after,
	}
	if before != nil {
		entry.OldValues = before
	}
	return m.recorder.Record(ctx, tx, entry)
}

func setBrokerResponse(order *models.Order, resp interface{}) error {
	if resp == nil {
		return nil
	}
	if raw, ok := resp.(json.RawMessage); ok {
		order.BrokerResponse = models.JSON(raw)
		return nil
	}
	data, err := models.NewJSON(resp)
	if err != nil {
		return errors.Validation.Explain("invalid broker response").Wrap(err)
	}
	order.BrokerResponse = data
	return nil
}

func fillOutcome(err error) string {
	switch errors.KindOf(err) {
	case errors.KindOverfill:
		return "overfill"
	case errors.KindInvalidTransition:
		return "invalid_transition"
	case errors.KindNotFound:
		return "not_found"
	}
	return "error"
}
