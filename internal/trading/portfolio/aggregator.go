package portfolio

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RiskEvaluator is run after every position change and every snapshot, inside
// the same transaction. After a position change EvaluatePortfolio receives an
// unsaved snapshot with a nil ID. *risk.Evaluator implements it.
type RiskEvaluator interface {
	EvaluatePosition(ctx context.Context, tx *repository.Tx, actor model.Actor, pos *models.Position, limits config.RiskLimits) ([]models.RiskEvent, error)
	EvaluatePortfolio(ctx context.Context, tx *repository.Tx, actor model.Actor, snap *models.PortfolioSnapshot, limits config.RiskLimits) ([]models.RiskEvent, error)
}

// Aggregator keeps positions and snapshots consistent with fills and marks.
type Aggregator struct {
	store    *repository.Store
	recorder audit.Recorder
	risk     RiskEvaluator
	funds    FundsProvider
	policy   config.TradingPolicy
	bus      events.EventBus
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an aggregator. funds and bus may be nil.
func NewAggregator(store *repository.Store, recorder audit.Recorder, risk RiskEvaluator, funds FundsProvider,
	policy config.TradingPolicy, bus events.EventBus, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		recorder: recorder,
		risk:     risk,
		funds:    funds,
		policy:   policy,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for snapshot timestamps.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// ApplyFill updates the position of the order's instrument for one fill and
// evaluates the position and the whole portfolio for risk, all within tx.
// The session row is locked first so position read-modify-write cycles are
// serialized across processes as well.
func (a *Aggregator) ApplyFill(ctx context.Context, tx *repository.Tx, actor model.Actor, order *models.Order, fill *models.OrderFill, limits config.RiskLimits) (*models.Position, error) {
	session, err := tx.GetSession(ctx, order.TradingSessionID)
	if err != nil {
		return nil, err
	}
	pos, err := tx.GetPosition(ctx, order.TradingSessionID, order.InstrumentToken)
	switch {
	case errors.Is(err, errors.NotFound):
		pos = &models.Position{
			TradingSessionID: order.TradingSessionID,
			InstrumentToken:  order.InstrumentToken,
			InstrumentName:   order.InstrumentName,
			Exchange:         order.Exchange,
			ProductType:      order.ProductType,
		}
	case err != nil:
		return nil, err
	}
	before := *pos

	ApplyFillToPosition(pos, fill.Quantity*model.SideSign(order.Side), fill.Price)
	Revalue(pos, fill.Price, a.policy.MarginRate(pos.ProductType))
	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return nil, err
	}

	entry := audit.Entry{
		Actor:        actor,
		Action:       audit.ActionPositionUpdated,
		ResourceType: audit.ResourcePosition,
		ResourceID:   pos.ID.String(),
		SessionID:    &pos.TradingSessionID,
		NewValues:    pos,
	}
	if before.ID != uuid.Nil {
		entry.OldValues = &before
	}
	if err := a.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if _, err := a.risk.EvaluatePosition(ctx, tx, actor, pos, limits); err != nil {
		return nil, err
	}
	if err := a.evaluateHoldings(ctx, tx, actor, session, limits); err != nil {
		return nil, err
	}
	a.announce(ctx, tx, pos)
	return pos, nil
}

// ApplyMark records a new market price for an instrument in every session
// holding it. Each session is updated in its own transaction; the first
// failure stops the run and is returned with the positions already marked.
func (a *Aggregator) ApplyMark(ctx context.Context, actor model.Actor, instrumentToken string, price decimal.Decimal, limits config.RiskLimits) ([]models.Position, error) {
	if instrumentToken == "" {
		return nil, errors.Validation.Explain("instrument token is required").WithField("required", "instrument_token", "instrument token is required")
	}
	if !price.IsPositive() {
		return nil, errors.Validation.Explain("mark price must be positive").WithField("gt", "price", "mark price must be positive")
	}

	sessions, err := a.store.Reader().SessionsHolding(ctx, instrumentToken)
	if err != nil {
		return nil, err
	}

	marked := make([]models.Position, 0, len(sessions))
	for _, sessionID := range sessions {
		var pos *models.Position
		err := a.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
			session, err := tx.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if pos, err = tx.GetPosition(ctx, sessionID, instrumentToken); err != nil {
				return err
			}
			before := *pos
			mark := price
			pos.CurrentPrice = &mark
			Revalue(pos, price, a.policy.MarginRate(pos.ProductType))
			if err := tx.UpsertPosition(ctx, pos); err != nil {
				return err
			}
			if err := a.recorder.Record(ctx, tx, audit.Entry{
				Actor:        actor,
				Action:       audit.ActionPositionMarked,
				ResourceType: audit.ResourcePosition,
				ResourceID:   pos.ID.String(),
				SessionID:    &sessionID,
				OldValues:    &before,
				NewValues:    pos,
			}); err != nil {
				return err
			}
			if _, err := a.risk.EvaluatePosition(ctx, tx, actor, pos, limits); err != nil {
				return err
			}
			if err := a.evaluateHoldings(ctx, tx, actor, session, limits); err != nil {
				return err
			}
			a.announce(ctx, tx, pos)
			return nil
		})
		if err != nil {
			a.logger.Error("Failed to mark position",
				zap.String("session_id", sessionID.String()),
				zap.String("instrument_token", instrumentToken),
				zap.Error(err))
			return marked, err
		}
		marked = append(marked, *pos)
	}
	return marked, nil
}

func (a *Aggregator) announce(ctx context.Context, tx *repository.Tx, pos *models.Position) {
	if a.bus == nil {
		return
	}
	payload := events.PositionEvent{
		TradingSessionID: pos.TradingSessionID.String(),
		InstrumentToken:  pos.InstrumentToken,
		Quantity:         pos.Quantity,
		AveragePrice:     pos.AveragePrice,
		UnrealizedPnl:    pos.UnrealizedPnl,
		RealizedPnl:      pos.RealizedPnl,
		Timestamp:        pos.UpdatedAt,
	}
	tx.AfterCommit(func() {
		a.bus.Publish(ctx, events.Event{
			Topic:   events.TopicPosition,
			Type:    audit.ActionPositionUpdated,
			Key:     payload.TradingSessionID,
			Payload: payload,
		})
	})
}

// Reevaluate runs position risk checks for every position of a session
// against limits, without changing the positions.
func (a *Aggregator) Reevaluate(ctx context.Context, actor model.Actor, sessionID uuid.UUID, limits config.RiskLimits) ([]models.RiskEvent, error) {
	var raised []models.RiskEvent
	err := a.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
		raised = raised[:0]
		positions, err := tx.ListPositions(ctx, sessionID)
		if err != nil {
			return err
		}
		for i := range positions {
			evs, err := a.risk.EvaluatePosition(ctx, tx, actor, &positions[i], limits)
			if err != nil {
				return err
			}
			raised = append(raised, evs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raised, nil
}
