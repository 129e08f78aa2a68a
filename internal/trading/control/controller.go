package control

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const signalTimeout = 5 * time.Second

// Controller flips the halted flag of trading sessions. Every change is
// audited in its transaction and signalled after commit.
type Controller struct {
	store    *repository.Store
	recorder audit.Recorder
	signaler HaltSignaler
	logger   *zap.Logger
	now      func() time.Time
}

// NewController creates a controller. A nil signaler disables signalling.
func NewController(store *repository.Store, recorder audit.Recorder, signaler HaltSignaler, logger *zap.Logger) *Controller {
	return &Controller{
		store:    store,
		recorder: recorder,
		signaler: signaler,
		logger:   logger,
		now:      time.Now,
	}
}

// Halt stops new order submission for a session.
func (c *Controller) Halt(ctx context.Context, actor model.Actor, sessionID uuid.UUID, reason string) (*models.TradingSession, error) {
	var session *models.TradingSession
	err := c.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
		var err error
		if session, err = tx.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return c.HaltInTx(ctx, tx, actor, session, reason, "")
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// HaltInTx halts session inside an open transaction and schedules the halt
// signal for after commit. The signal is sent even if the session was already
// halted, so every triggering risk event is announced once.
func (c *Controller) HaltInTx(ctx context.Context, tx *repository.Tx, actor model.Actor, session *models.TradingSession, reason, riskEventID string) error {
	if !session.Halted {
		before := *session
		session.Halted = true
		session.HaltReason = reason
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if err := c.recorder.Record(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       audit.ActionTradingHalted,
			ResourceType: audit.ResourceSession,
			ResourceID:   session.ID.String(),
			SessionID:    &session.ID,
			OldValues:    &before,
			NewValues:    session,
		}); err != nil {
			return err
		}
		c.logger.Warn("Trading halted",
			zap.String("session_id", session.ID.String()),
			zap.String("reason", reason),
			zap.String("risk_event_id", riskEventID))
	}

	c.afterCommit(ctx, tx, HaltSignal{
		SessionID:   session.ID,
		Halted:      true,
		Reason:      reason,
		RiskEventID: riskEventID,
		At:          c.now().UTC(),
	})
	return nil
}

// Resume re-enables order submission. Resuming a session that is not halted is
// errors.InvalidTransition.
func (c *Controller) Resume(ctx context.Context, actor model.Actor, sessionID uuid.UUID) (*models.TradingSession, error) {
	var session *models.TradingSession
	err := c.store.InTx(ctx, repository.SessionKey(sessionID), func(tx *repository.Tx) error {
		var err error
		if session, err = tx.GetSession(ctx, sessionID); err != nil {
			return err
		}
		if !session.Halted {
			return errors.InvalidTransition.Explain("trading session %s is not halted", sessionID)
		}
		before := *session
		session.Halted = false
		session.HaltReason = ""
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		if err := c.recorder.Record(ctx, tx, audit.Entry{
			Actor:        actor,
			Action:       audit.ActionTradingResumed,
			ResourceType: audit.ResourceSession,
			ResourceID:   session.ID.String(),
			SessionID:    &session.ID,
			OldValues:    &before,
			NewValues:    session,
		}); err != nil {
			return err
		}
		c.afterCommit(ctx, tx, HaltSignal{SessionID: session.ID, Halted: false, At: c.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Trading resumed", zap.String("session_id", sessionID.String()), zap.String("actor", actor.Name))
	return session, nil
}

// IsHalted reports the committed halt flag of a session.
func (c *Controller) IsHalted(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	session, err := c.store.Reader().GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return session.Halted, nil
}

func (c *Controller) afterCommit(ctx context.Context, tx *repository.Tx, sig HaltSignal) {
	if c.signaler == nil {
		return
	}
	tx.AfterCommit(func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
		defer cancel()
		if err := c.signaler.Signal(sctx, sig); err != nil {
			c.logger.Error("Failed to deliver halt signal",
				zap.String("session_id", sig.SessionID.String()),
				zap.Bool("halted", sig.Halted),
				zap.Error(err))
		}
	})
}
