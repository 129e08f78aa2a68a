// Package audit appends the immutable compliance trail. Every state change of
// the core writes exactly one row here inside its own transaction.
package audit

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions
const (
	ActionOrderSubmitted    = "ORDER_SUBMITTED"
	ActionOrderAccepted     = "ORDER_ACCEPTED"
	ActionOrderFilled       = "ORDER_FILLED"
	ActionOrderCancelled    = "ORDER_CANCELLED"
	ActionOrderRejected     = "ORDER_REJECTED"
	ActionPositionUpdated   = "POSITION_UPDATED"
	ActionPositionMarked    = "POSITION_MARKED"
	ActionSnapshotCreated   = "SNAPSHOT_CREATED"
	ActionRiskEventCreated  = "RISK_EVENT_CREATED"
	ActionRiskEventResolved = "RISK_EVENT_RESOLVED"
	ActionSessionCreated    = "SESSION_CREATED"
	ActionSessionUpdated    = "SESSION_UPDATED"
	ActionTradingHalted     = "TRADING_HALTED"
	ActionTradingResumed    = "TRADING_RESUMED"
)

// Resource types
const (
	ResourceOrder     = "order"
	ResourcePosition  = "position"
	ResourceSnapshot  = "portfolio_snapshot"
	ResourceRiskEvent = "risk_event"
	ResourceSession   = "trading_session"
)

// Entry is one state change to record. OldValues and NewValues are marshalled
// to JSON as given.
type Entry struct {
	Actor        model.Actor
	Action       string
	ResourceType string
	ResourceID   string
	SessionID    *uuid.UUID
	OldValues    interface{}
	NewValues    interface{}
}

// Appender is the transactional sink for audit rows.
type Appender interface {
	AppendAuditLog(ctx context.Context, row *models.AuditLog) error
}

// Recorder writes audit entries through the enclosing transaction.
type Recorder interface {
	Record(ctx context.Context, tx Appender, entry Entry) error
}

// Service is the default Recorder.
type Service struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger, now: time.Now}
}

// WithClock replaces the time source used for created_at.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record builds, hashes and appends one audit row. Any failure is reported as
// errors.AuditFailure so the enclosing transaction rolls back.
func (s *Service) Record(ctx context.Context, tx Appender, entry Entry) error {
	oldValues, err := models.NewJSON(entry.OldValues)
	if err != nil {
		return errors.AuditFailure.Explain("failed to encode old values for %s", entry.Action).Wrap(err)
	}
	newValues, err := models.NewJSON(entry.NewValues)
	if err != nil {
		return errors.AuditFailure.Explain("failed to encode new values for %s", entry.Action).Wrap(err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return errors.AuditFailure.Explain("failed to allocate audit id").Wrap(err)
	}

	row := &models.AuditLog{
		ID:               id,
		UserID:           entry.Actor.UserID,
		TradingSessionID: entry.SessionID,
		Action:           entry.Action,
		ResourceType:     entry.ResourceType,
		ResourceID:       entry.ResourceID,
		Actor:            entry.Actor.Name,
		IPAddress:        entry.Actor.IPAddress,
		UserAgent:        entry.Actor.UserAgent,
		RequestID:        entry.Actor.RequestID,
		OldValues:        oldValues,
		NewValues:        newValues,
		CreatedAt:        s.now().UTC().Truncate(time.Microsecond),
	}
	if row.RequestID == "" {
		row.RequestID = model.RequestID(ctx)
	}
	if row.ContentHash, err = ContentHash(row); err != nil {
		return errors.AuditFailure.Explain("failed to hash audit record").Wrap(err)
	}

	if err := tx.AppendAuditLog(ctx, row); err != nil {
		s.logger.Error("Audit write failed",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err))
		return errors.AuditFailure.Explain("failed to persist audit record for %s", entry.Action).Wrap(err)
	}

	metrics.AuditRecords.WithLabelValues(entry.Action).Inc()
	return nil
}
