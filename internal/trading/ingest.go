package trading

import (
	"context"
	"encoding/json"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/orderqueue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceMark is a last-traded-price notification for an instrument.
type PriceMark struct {
	InstrumentToken string          `json:"instrument_token"`
	Price           decimal.Decimal `json:"price"`
}

// OnFill accepts an asynchronous broker fill. With an inbox the fill is
// persisted first and applied in arrival order; a fill that cannot be applied
// ends up in the inbox's dead letters instead of being returned.
func (s *Service) OnFill(ctx context.Context, fill lifecycle.BrokerFill) error {
	if s.inbox == nil {
		_, err := s.lifecycle.ApplyFillByBrokerID(ctx, model.ActorBrokerFeed, fill)
		return err
	}
	if _, err := s.inbox.Enqueue(ctx, orderqueue.KindFill, fill); err != nil {
		return err
	}
	s.drain(ctx)
	return nil
}

// OnPriceMark accepts a price mark and revalues every position in the
// instrument.
func (s *Service) OnPriceMark(ctx context.Context, mark PriceMark) error {
	if s.inbox == nil {
		return s.applyMark(ctx, mark)
	}
	if _, err := s.inbox.Enqueue(ctx, orderqueue.KindMark, mark); err != nil {
		return err
	}
	s.drain(ctx)
	return nil
}

func (s *Service) drain(ctx context.Context) {
	if n, err := s.DrainInbox(ctx); err != nil {
		s.logger.Warn("Inbox entries left pending", zap.Int("applied", n), zap.Error(err))
	}
}

// DrainInbox applies every pending inbox entry.
func (s *Service) DrainInbox(ctx context.Context) (int, error) {
	if s.inbox == nil {
		return 0, nil
	}
	return s.inbox.Drain(ctx, s.handleEntry)
}

func (s *Service) handleEntry(ctx context.Context, e orderqueue.Entry) error {
	switch e.Kind {
	case orderqueue.KindFill:
		var fill lifecycle.BrokerFill
		if err := json.Unmarshal(e.Payload, &fill); err != nil {
			return errors.Validation.Explain("malformed fill notification %d", e.Seq).Wrap(err)
		}
		_, err := s.lifecycle.ApplyFillByBrokerID(ctx, model.ActorBrokerFeed, fill)
		// A broker may report a fill before the submit call that accepted the
		// order has committed its broker order id.
		if errors.Is(err, errors.NotFound) && s.now().Sub(e.ReceivedAt) < s.fillGrace {
			return orderqueue.ErrNotReady.Explain("fill %d for broker order %s is waiting for its order", e.Seq, fill.BrokerOrderID).Wrap(err)
		}
		return err
	case orderqueue.KindMark:
		var mark PriceMark
		if err := json.Unmarshal(e.Payload, &mark); err != nil {
			return errors.Validation.Explain("malformed price mark %d", e.Seq).Wrap(err)
		}
		return s.applyMark(ctx, mark)
	}
	return errors.Validation.Explain("unknown inbox entry kind %q", e.Kind)
}

func (s *Service) applyMark(ctx context.Context, mark PriceMark) error {
	limits, err := s.limits.Limits(ctx)
	if err != nil {
		return errors.Storage.Explain("failed to load risk limits").Wrap(err)
	}
	if _, err := s.portfolio.ApplyMark(ctx, model.ActorBrokerFeed, mark.InstrumentToken, mark.Price, limits); err != nil {
		return err
	}
	s.brokers.Mark(mark.InstrumentToken, mark.Price)
	return nil
}
