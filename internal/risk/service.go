// Package risk evaluates positions and portfolio snapshots against the risk
// limits of the current cycle and records breaches as risk events.
package risk

import (
	"context"
	"fmt"
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

// Halter halts a session inside an open transaction; *control.Controller implements it.
type Halter interface {
	HaltInTx(ctx context.Context, tx *repository.Tx, actor model.Actor, session *models.TradingSession, reason, riskEventID string) error
}

// Breach is one limit exceeded by one measured value.
type Breach struct {
	EventType string
	DedupKey  string
	Value     decimal.Decimal
	Limit     decimal.Decimal
	Severity  Severity
	Message   string
}

// Evaluator checks limits and records breaches in the caller's transaction.
type Evaluator struct {
	recorder audit.Recorder
	halter   Halter
	bus      events.EventBus
	logger   *zap.Logger
	now      func() time.Time
}

// NewEvaluator creates an evaluator. bus may be nil.
func NewEvaluator(recorder audit.Recorder, halter Halter, bus events.EventBus, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		recorder: recorder,
		halter:   halter,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// PositionBreaches returns the breaches of a single position: notional
// exposure against max_position_size.
func PositionBreaches(pos *models.Position, limits config.RiskLimits) []Breach {
	if !limits.MaxPositionSize.IsPositive() || !pos.Exposure.GreaterThan(limits.MaxPositionSize) {
		return nil
	}
	return []Breach{{
		EventType: EventExposureLimit,
		DedupKey:  EventExposureLimit + ":" + pos.InstrumentToken,
		Value:     pos.Exposure,
		Limit:     limits.MaxPositionSize,
		Severity:  Classify(pos.Exposure, limits.MaxPositionSize, limits.Bands),
		Message: fmt.Sprintf("exposure %s in %s exceeds max position size %s",
			pos.Exposure.StringFixed(2), pos.InstrumentToken, limits.MaxPositionSize.StringFixed(2)),
	}}
}

// PortfolioBreaches returns the breaches of a snapshot: daily loss, margin
// usage and, when configured, VaR.
func PortfolioBreaches(snap *models.PortfolioSnapshot, limits config.RiskLimits) []Breach {
	var breaches []Breach

	loss := snap.DayPnl.Neg()
	switch {
	case limits.HardDailyLoss.IsPositive() && loss.GreaterThanOrEqual(limits.HardDailyLoss):
		breaches = append(breaches, Breach{
			EventType: EventDailyLoss,
			DedupKey:  EventDailyLoss,
			Value:     loss,
			Limit:     limits.HardDailyLoss,
			Severity:  SeverityCritical,
			Message: fmt.Sprintf("daily loss %s reached hard limit %s",
				loss.StringFixed(2), limits.HardDailyLoss.StringFixed(2)),
		})
	case limits.MaxDailyLoss.IsPositive() && loss.GreaterThan(limits.MaxDailyLoss):
		breaches = append(breaches, Breach{
			EventType: EventDailyLoss,
			DedupKey:  EventDailyLoss,
			Value:     loss,
			Limit:     limits.MaxDailyLoss,
			Severity:  Classify(loss, limits.MaxDailyLoss, limits.Bands),
			Message: fmt.Sprintf("daily loss %s exceeds limit %s",
				loss.StringFixed(2), limits.MaxDailyLoss.StringFixed(2)),
		})
	}

	capital := snap.UsedMargin.Add(snap.AvailableCash)
	if capital.IsPositive() && limits.MaxMarginUsage.IsPositive() {
		usage := snap.UsedMargin.Div(capital)
		if usage.GreaterThan(limits.MaxMarginUsage) {
			breaches = append(breaches, Breach{
				EventType: EventMarginCall,
				DedupKey:  EventMarginCall,
				Value:     usage,
				Limit:     limits.MaxMarginUsage,
				Severity:  Classify(usage, limits.MaxMarginUsage, limits.Bands),
				Message: fmt.Sprintf("margin usage %s%% exceeds limit %s%%",
					usage.Mul(decimal.NewFromInt(100)).StringFixed(2),
					limits.MaxMarginUsage.Mul(decimal.NewFromInt(100)).StringFixed(2)),
			})
		}
	}

	if limits.MaxVaR.IsPositive() && snap.Var95.GreaterThan(limits.MaxVaR) {
		breaches = append(breaches, Breach{
			EventType: EventVaRBreach,
			DedupKey:  EventVaRBreach,
			Value:     snap.Var95,
			Limit:     limits.MaxVaR,
			Severity:  Classify(snap.Var95, limits.MaxVaR, limits.Bands),
			Message: fmt.Sprintf("VaR95 %s exceeds limit %s",
				snap.Var95.StringFixed(2), limits.MaxVaR.StringFixed(2)),
		})
	}
	return breaches
}

// EvaluatePosition records the breaches of pos and returns the events created.
func (e *Evaluator) EvaluatePosition(ctx context.Context, tx *repository.Tx, actor model.Actor, pos *models.Position, limits config.RiskLimits) ([]models.RiskEvent, error) {
	return e.record(ctx, tx, actor, pos.TradingSessionID, PositionBreaches(pos, limits))
}

// EvaluatePortfolio records the breaches of snap and returns the events created.
func (e *Evaluator) EvaluatePortfolio(ctx context.Context, tx *repository.Tx, actor model.Actor, snap *models.PortfolioSnapshot, limits config.RiskLimits) ([]models.RiskEvent, error) {
	return e.record(ctx, tx, actor, snap.TradingSessionID, PortfolioBreaches(snap, limits))
}

func (e *Evaluator) record(ctx context.Context, tx *repository.Tx, actor model.Actor, sessionID uuid.UUID, breaches []Breach) ([]models.RiskEvent, error) {
	var created []models.RiskEvent
	for _, b := range breaches {
		open, err := tx.OpenRiskEvents(ctx, sessionID, b.DedupKey)
		if err != nil {
			return nil, err
		}
		if suppressed(open, b.Severity) {
			continue
		}

		params, err := models.NewJSON(map[string]string{
			"value":     b.Value.String(),
			"limit":     b.Limit.String(),
			"overshoot": Overshoot(b.Value, b.Limit).StringFixed(4),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode risk parameters: %w", err)
		}
		ev := &models.RiskEvent{
			TradingSessionID: sessionID,
			EventType:        b.EventType,
			Severity:         b.Severity.String(),
			Message:          b.Message,
			Parameters:       params,
			DedupKey:         b.DedupKey,
			CreatedAt:        e.now().UTC(),
		}
		if err := tx.AppendRiskEvent(ctx, ev); err != nil {
			return nil, err
		}
		if err := e.recorder.Record(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       audit.ActionRiskEventCreated,
			ResourceType: audit.ResourceRiskEvent,
			ResourceID:   ev.ID.String(),
			SessionID:    &sessionID,
			NewValues:    ev,
		}); err != nil {
			return nil, err
		}

		if b.Severity == SeverityCritical && e.halter != nil {
			session, err := tx.GetSession(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if err := e.halter.HaltInTx(ctx, tx, model.ActorRisk, session, b.Message, ev.ID.String()); err != nil {
				return nil, err
			}
		}

		e.announce(ctx, tx, ev)
		created = append(created, *ev)
	}
	return created, nil
}

// suppressed reports whether an unresolved event of at least the same severity
// already covers the breach.
func suppressed(open []models.RiskEvent, severity Severity) bool {
	for _, ev := range open {
		if ParseSeverity(ev.Severity) >= severity {
			return true
		}
	}
	return false
}

func (e *Evaluator) announce(ctx context.Context, tx *repository.Tx, ev *models.RiskEvent) {
	event := *ev
	tx.AfterCommit(func() {
		metrics.RiskEvents.WithLabelValues(event.EventType, event.Severity).Inc()
		e.logger.Warn("Risk limit breached",
			zap.String("risk_event_id", event.ID.String()),
			zap.String("session_id", event.TradingSessionID.String()),
			zap.String("event_type", event.EventType),
			zap.String("severity", event.Severity),
			zap.String("message", event.Message))
		if e.bus == nil {
			return
		}
		e.bus.Publish(ctx, events.Event{
			Topic: events.TopicRisk,
			Type:  audit.ActionRiskEventCreated,
			Key:   event.TradingSessionID.String(),
			Payload: events.RiskEvent{
				RiskEventID:      event.ID.String(),
				TradingSessionID: event.TradingSessionID.String(),
				EventType:        event.EventType,
				Severity:         event.Severity,
				Message:          event.Message,
				Timestamp:        event.CreatedAt,
			},
		})
	})
}

// Resolve marks a risk event resolved. Resolution is the only mutation a risk
// event accepts; a second call is errors.AlreadyResolved.
func (e *Evaluator) Resolve(ctx context.Context, store *repository.Store, actor model.Actor, eventID uuid.UUID, resolver string) (*models.RiskEvent, error) {
	if resolver == "" {
		return nil, errors.Validation.Explain("resolver is required").WithField("required", "resolver", "resolver is required")
	}
	existing, err := store.Reader().GetRiskEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	var ev *models.RiskEvent
	err = store.InTx(ctx, repository.SessionKey(existing.TradingSessionID), func(tx *repository.Tx) error {
		var err error
		if ev, err = tx.GetRiskEvent(ctx, eventID); err != nil {
			return err
		}
		before := *ev
		if err := tx.ResolveRiskEvent(ctx, ev, resolver, e.now().UTC()); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       audit.ActionRiskEventResolved,
			ResourceType: audit.ResourceRiskEvent,
			ResourceID:   ev.ID.String(),
			SessionID:    &ev.TradingSessionID,
			OldValues:    &before,
			NewValues:    ev,
		})
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Risk event resolved",
		zap.String("risk_event_id", eventID.String()),
		zap.String("resolved_by", resolver))
	return ev, nil
}
