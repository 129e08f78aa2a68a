// Package trading is the entry point of the F&O core. Service checks that the
// calling user owns the session, routes orders to the broker outside any
// ledger transaction and delegates state changes to the lifecycle, portfolio,
// risk and control components.
package trading

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/broker"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/risk"
	"github.com/Aidin1998/pincex_fno/internal/trading/control"
	"github.com/Aidin1998/pincex_fno/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/orderqueue"
	"github.com/Aidin1998/pincex_fno/internal/trading/portfolio"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("fno-core/trading")

const (
	brokerTimeout = 10 * time.Second
	// DefaultFillGrace is how long a fill for an unknown broker order id is
	// held in the inbox before it is dead-lettered.
	DefaultFillGrace = 2 * time.Minute
)

// Caller is the authenticated (user, session) pair supplied with every call.
type Caller struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	IPAddress string
	UserAgent string
}

func (c Caller) actor(ctx context.Context) model.Actor {
	a := model.UserActor(c.UserID)
	a.IPAddress = c.IPAddress
	a.UserAgent = c.UserAgent
	a.RequestID = model.RequestID(ctx)
	return a
}

// Deps are the collaborators of a Service. Inbox may be nil, in which case
// broker notifications are applied synchronously. A zero FillGrace means
// DefaultFillGrace.
type Deps struct {
	Store     *repository.Store
	Recorder  audit.Recorder
	Lifecycle *lifecycle.Manager
	Portfolio *portfolio.Aggregator
	Risk      *risk.Evaluator
	Control   *control.Controller
	Brokers   *broker.Registry
	Inbox     orderqueue.Inbox
	Limits    config.LimitsSource
	Logger    *zap.Logger
	FillGrace time.Duration
}

// Service implements the operations exposed to collaborators.
type Service struct {
	store     *repository.Store
	recorder  audit.Recorder
	lifecycle *lifecycle.Manager
	portfolio *portfolio.Aggregator
	risk      *risk.Evaluator
	control   *control.Controller
	brokers   *broker.Registry
	inbox     orderqueue.Inbox
	limits    config.LimitsSource
	logger    *zap.Logger
	fillGrace time.Duration
	now       func() time.Time
}

// NewService creates a new trading service
func NewService(d Deps) *Service {
	grace := d.FillGrace
	if grace == 0 {
		grace = DefaultFillGrace
	}
	return &Service{
		store:     d.Store,
		recorder:  d.Recorder,
		lifecycle: d.Lifecycle,
		portfolio: d.Portfolio,
		risk:      d.Risk,
		control:   d.Control,
		brokers:   d.Brokers,
		inbox:     d.Inbox,
		limits:    d.Limits,
		logger:    d.Logger,
		fillGrace: grace,
		now:       time.Now,
	}
}

// WithClock replaces the time source used to age inbox entries.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func startSpan(ctx context.Context, name string, c Caller) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user_id", c.UserID.String()),
		attribute.String("session_id", c.SessionID.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// authorize loads the caller's session. A session of another user is
// reported as missing.
func (s *Service) authorize(ctx context.Context, c Caller) (*models.TradingSession, error) {
	session, err := s.store.Reader().GetSession(ctx, c.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != c.UserID {
		return nil, errors.NotFound.Explain("trading session %s not found", c.SessionID)
	}
	return session, nil
}

// ownedOrder loads an order of the caller's session.
func (s *Service) ownedOrder(ctx context.Context, c Caller, orderID uuid.UUID) (*models.TradingSession, *models.Order, error) {
	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.store.Reader().GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.TradingSessionID != session.ID {
		return nil, nil, errors.NotFound.Explain("order %s not found", orderID)
	}
	return session, order, nil
}

// SubmitOrder stores the order as PENDING, then routes it to the broker. A
// broker rejection returns the REJECTED order. When the broker cannot be
// reached the order stays PENDING and errors.BrokerUnavailable is returned
// together with it.
func (s *Service) SubmitOrder(ctx context.Context, c Caller, req model.OrderRequest) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "trading.SubmitOrder", c)
	defer func() { endSpan(span, err) }()

	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	actor := c.actor(ctx)
	if order, err = s.lifecycle.Submit(ctx, actor, session.ID, req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID.String()))

	adapter, err := s.brokers.For(session)
	if err != nil {
		return order, errors.BrokerUnavailable.Explain("no broker for session %s", session.ID).Wrap(err)
	}
	bctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	ack, err := adapter.SubmitOrder(bctx, session, order)
	cancel()
	if err != nil {
		if rej, ok := broker.AsRejection(err); ok {
			return s.lifecycle.Reject(ctx, actor, order.ID, rej.Reason, map[string]string{"code": rej.Code, "reason": rej.Reason})
		}
		s.logger.Warn("Broker unavailable, order left pending",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
		return order, errors.BrokerUnavailable.Explain("broker did not acknowledge order %s", order.ID).Wrap(err)
	}

	if order, err = s.lifecycle.MarkAccepted(ctx, actor, order.ID, ack.BrokerOrderID, ack.Response); err != nil {
		return nil, err
	}
	for _, ex := range ack.Executions {
		fill := lifecycle.BrokerFill{
			BrokerOrderID: ack.BrokerOrderID,
			Quantity:      ex.Quantity,
			Price:         ex.Price,
			BrokerFillID:  ex.FillID,
			Timestamp:     ex.Timestamp,
		}
		if err := s.OnFill(ctx, fill); err != nil {
			return order, err
		}
	}
	if len(ack.Executions) > 0 {
		if order, err = s.store.Reader().GetOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// CancelOrder cancels a PENDING or OPEN order. Open orders are cancelled at
// the broker first.
func (s *Service) CancelOrder(ctx context.Context, c Caller, orderID uuid.UUID, reason string) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "trading.CancelOrder", c)
	defer func() { endSpan(span, err) }()

	session, order, err := s.ownedOrder(ctx, c, orderID)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(order.Status) {
		return nil, errors.InvalidTransition.Explain("order %s is %s and cannot be cancelled", order.ID, order.Status)
	}
	if order.Status == model.OrderStatusOpen && order.BrokerOrderID != nil {
		adapter, err := s.brokers.For(session)
		if err != nil {
			return nil, errors.BrokerUnavailable.Explain("no broker for session %s", session.ID).Wrap(err)
		}
		bctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err = adapter.CancelOrder(bctx, session, order)
		cancel()
		if err != nil {
			if rej, ok := broker.AsRejection(err); ok {
				return nil, errors.InvalidTransition.Explain("broker refused to cancel order %s: %s", order.ID, rej.Reason).Wrap(err)
			}
			return nil, errors.BrokerUnavailable.Explain("broker did not cancel order %s", order.ID).Wrap(err)
		}
	}
	return s.lifecycle.Cancel(ctx, c.actor(ctx), order.ID, reason)
}

// GetOrder returns one order of the caller's session.
func (s *Service) GetOrder(ctx context.Context, c Caller, orderID uuid.UUID) (*models.Order, error) {
	_, order, err := s.ownedOrder(ctx, c, orderID)
	return order, err
}

// Fills returns the fills of one order of the caller's session.
func (s *Service) Fills(ctx context.Context, c Caller, orderID uuid.UUID) ([]models.OrderFill, error) {
	if _, _, err := s.ownedOrder(ctx, c, orderID); err != nil {
		return nil, err
	}
	return s.lifecycle.Fills(ctx, orderID)
}

// ListOrders returns the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, c Caller, f repository.OrderFilter) ([]models.Order, error) {
	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.store.Reader().ListOrders(ctx, session.ID, f)
}

// GetPositions returns the caller's positions.
func (s *Service) GetPositions(ctx context.Context, c Caller) ([]models.Position, error) {
	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.store.Reader().ListPositions(ctx, session.ID)
}

// GetPortfolioSummary returns the latest snapshot and the current positions.
func (s *Service) GetPortfolioSummary(ctx context.Context, c Caller) (*portfolio.Summary, error) {
	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.portfolio.Summary(ctx, session.ID)
}

// ListRiskEvents returns the caller's risk events, optionally by resolution.
func (s *Service) ListRiskEvents(ctx context.Context, c Caller, resolved *bool) ([]models.RiskEvent, error) {
	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	return s.store.Reader().ListRiskEvents(ctx, session.ID, resolved)
}

// ResolveRiskEvent marks a risk event of the caller's session resolved.
func (s *Service) ResolveRiskEvent(ctx context.Context, c Caller, eventID uuid.UUID) (ev *models.RiskEvent, err error) {
	ctx, span := startSpan(ctx, "trading.ResolveRiskEvent", c)
	defer func() { endSpan(span, err) }()

	session, err := s.authorize(ctx, c)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.Reader().GetRiskEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if existing.TradingSessionID != session.ID {
		return nil, errors.NotFound.Explain("risk event %s not found", eventID)
	}
	actor := c.actor(ctx)
	return s.risk.Resolve(ctx, s.store, actor, eventID, actor.Name)
}

// HaltTrading stops order intake for the caller's session.
func (s *Service) HaltTrading(ctx context.Context, c Caller, reason string) (session *models.TradingSession, err error) {
	ctx, span := startSpan(ctx, "trading.HaltTrading", c)
	defer func() { endSpan(span, err) }()

	if _, err = s.authorize(ctx, c); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "halted by user"
	}
	return s.control.Halt(ctx, c.actor(ctx), c.SessionID, reason)
}

// ResumeTrading lifts a halt on the caller's session.
func (s *Service) ResumeTrading(ctx context.Context, c Caller) (session *models.TradingSession, err error) {
	ctx, span := startSpan(ctx, "trading.ResumeTrading", c)
	defer func() { endSpan(span, err) }()

	if _, err = s.authorize(ctx, c); err != nil {
		return nil, err
	}
	return s.control.Resume(ctx, c.actor(ctx), c.SessionID)
}
