package lifecycle

import (
	"context"
	"encoding/json"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/models"
)

// validTransitions lists the stored statuses reachable from each status. A
// fill keeps an order OPEN until it completes; PARTIALLY_FILLED is derived.
var validTransitions = map[string][]string{
	model.OrderStatusPending:   {model.OrderStatusOpen, model.OrderStatusCancelled, model.OrderStatusRejected},
	model.OrderStatusOpen:      {model.OrderStatusOpen, model.OrderStatusComplete, model.OrderStatusCancelled},
	model.OrderStatusComplete:  {}, // Terminal state
	model.OrderStatusCancelled: {}, // Terminal state
	model.OrderStatusRejected:  {}, // Terminal state
}

// isValidTransition checks if a state transition is valid
func isValidTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(order *models.Order, to string) error {
	if !isValidTransition(order.Status, to) {
		return errors.InvalidTransition.Explain("order %s cannot move from %s to %s",
			order.ID, model.DerivedStatus(order), to)
	}
	return nil
}

// OrderValidator is run inside the submit transaction, after the request
// itself has been validated and before the order is stored.
type OrderValidator interface {
	ValidateOrder(ctx context.Context, session *models.TradingSession, order *models.Order) error
	Name() string
}

// SessionValidator only admits orders into active, non-halted sessions.
type SessionValidator struct{}

func (SessionValidator) ValidateOrder(_ context.Context, session *models.TradingSession, _ *models.Order) error {
	if !session.IsActive {
		return errors.Validation.Explain("trading session %s is not active", session.ID).
			WithField("inactive", "trading_session_id", "session is deactivated")
	}
	if session.Halted {
		return errors.Halted.Explain("trading is halted for session %s: %s", session.ID, session.HaltReason)
	}
	return nil
}

func (SessionValidator) Name() string { return "session" }

// ExchangeValidator rejects orders for exchanges the session's broker
// configuration does not enable. An empty list enables every exchange.
type ExchangeValidator struct{}

func (ExchangeValidator) ValidateOrder(_ context.Context, session *models.TradingSession, order *models.Order) error {
	cfg, err := model.DecodeBrokerConfig(json.RawMessage(session.BrokerConfig))
	if err != nil {
		return err
	}
	if len(cfg.Exchanges) == 0 {
		return nil
	}
	for _, ex := range cfg.Exchanges {
		if ex == order.Exchange {
			return nil
		}
	}
	return errors.Validation.Explain("exchange %s is not enabled for session %s", order.Exchange, session.ID).
		WithField("oneof", "exchange", "exchange not enabled for this session")
}

func (ExchangeValidator) Name() string { return "exchange" }
