package trading

import (
	"context"
	"encoding/json"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/broker"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// SessionRequest opens a trading session for the calling user.
type SessionRequest struct {
	SessionName    string          `json:"session_name" validate:"required,max=100"`
	BrokerType     string          `json:"broker_type" validate:"required,oneof=KITE UPSTOX PAPER"`
	BrokerConfig   json.RawMessage `json:"broker_config,omitempty"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	IsPaperTrading bool            `json:"is_paper_trading"`
}

// CreateSession opens an active session owned by the caller's user. The
// caller's SessionID is ignored.
func (s *Service) CreateSession(ctx context.Context, c Caller, req SessionRequest) (session *models.TradingSession, err error) {
	ctx, span := startSpan(ctx, "trading.CreateSession", c)
	defer func() { endSpan(span, err) }()

	if err := validate.Struct(req); err != nil {
		return nil, errors.Validation.Explain("invalid session request").Wrap(err)
	}
	if !req.InitialCapital.IsPositive() {
		return nil, errors.Validation.Explain("initial capital must be positive").
			WithField("gt", "initial_capital", "must be positive")
	}
	if _, err := model.DecodeBrokerConfig(req.BrokerConfig); err != nil {
		return nil, err
	}

	session = &models.TradingSession{
		ID:             uuid.New(),
		UserID:         c.UserID,
		SessionName:    req.SessionName,
		BrokerType:     req.BrokerType,
		BrokerConfig:   models.JSON(req.BrokerConfig),
		InitialCapital: req.InitialCapital,
		IsActive:       true,
		IsPaperTrading: req.IsPaperTrading || req.BrokerType == broker.TypePaper,
	}
	err = s.store.InTx(ctx, repository.SessionKey(session.ID), func(tx *repository.Tx) error {
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		return s.recorder.Record(ctx, tx, audit.Entry{
			Actor:        c.actor(ctx),
			Action:       audit.ActionSessionCreated,
			ResourceType: audit.ResourceSession,
			ResourceID:   session.ID.String(),
			SessionID:    &session.ID,
			NewValues:    session,
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeactivateSession closes the caller's session to new orders. Orders,
// positions and history are kept.
func (s *Service) DeactivateSession(ctx context.Context, c Caller) (session *models.TradingSession, err error) {
	ctx, span := startSpan(ctx, "trading.DeactivateSession", c)
	defer func() { endSpan(span, err) }()

	if _, err := s.authorize(ctx, c); err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, repository.SessionKey(c.SessionID), func(tx *repository.Tx) error {
		var err error
		if session, err = tx.GetSession(ctx, c.SessionID); err != nil {
			return err
		}
		if !session.IsActive {
			return errors.InvalidTransition.Explain("trading session %s is already inactive", session.ID)
		}
		before := *session
		session.IsActive = false
		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		return s.recorder.Record(ctx, tx, audit.Entry{
			Actor:        c.actor(ctx),
			Action:       audit.ActionSessionUpdated,
			ResourceType: audit.ResourceSession,
			ResourceID:   session.ID.String(),
			SessionID:    &session.ID,
			OldValues:    &before,
			NewValues:    session,
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}
