package lifecycle

import (
	"context"

	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"go.uber.org/zap"
)

// publishOrder schedules the order event, transition metric and log line for
// after commit. Nothing is published for a rolled back transition.
func (m *Manager) publishOrder(ctx context.Context, tx *repository.Tx, action string, order *models.Order) {
	payload := events.OrderEvent{
		OrderID:          order.ID.String(),
		ClientOrderID:    order.ClientOrderID,
		TradingSessionID: order.TradingSessionID.String(),
		InstrumentToken:  order.InstrumentToken,
		Side:             order.Side,
		Status:           model.DerivedStatus(order),
		Quantity:         order.Quantity,
		FilledQuantity:   order.FilledQuantity,
		AveragePrice:     order.AveragePrice,
		Timestamp:        order.UpdatedAt,
	}
	tx.AfterCommit(func() {
		metrics.OrderTransitions.WithLabelValues(payload.Status).Inc()
		m.logger.Info("Order transition",
			zap.String("action", action),
			zap.String("order_id", payload.OrderID),
			zap.String("client_order_id", payload.ClientOrderID),
			zap.String("status", payload.Status),
			zap.Int64("filled_quantity", payload.FilledQuantity))
		if m.bus != nil {
			m.bus.Publish(ctx, events.Event{
				Topic:   events.TopicOrder,
				Type:    action,
				Key:     payload.TradingSessionID,
				Payload: payload,
			})
		}
	})
}

func (m *Manager) publishFill(ctx context.Context, tx *repository.Tx, order *models.Order, fill *models.OrderFill) {
	if m.bus == nil {
		return
	}
	payload := events.FillEvent{
		OrderID:          order.ID.String(),
		TradingSessionID: order.TradingSessionID.String(),
		Quantity:         fill.Quantity,
		Price:            fill.Price,
		Timestamp:        fill.FillTimestamp,
	}
	if fill.BrokerFillID != nil {
		payload.BrokerFillID = *fill.BrokerFillID
	}
	tx.AfterCommit(func() {
		m.bus.Publish(ctx, events.Event{
			Topic:   events.TopicFill,
			Type:    "FILL_APPLIED",
			Key:     payload.TradingSessionID,
			Payload: payload,
		})
	})
}
