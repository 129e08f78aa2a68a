package broker

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Broker types
const (
	TypePaper  = "PAPER"
	TypeKite   = "KITE"
	TypeUpstox = "UPSTOX"
)

// Paper simulates a broker. Limit orders fill in full at their limit price;
// market orders fill at the last mark of the instrument, and stay open when
// no mark is known. Stop orders are accepted and never triggered.
type Paper struct {
	mu     sync.Mutex
	marks  map[string]decimal.Decimal
	orders map[string]string // broker order id -> status
	now    func() time.Time
}

func NewPaper() *Paper {
	return &Paper{
		marks:  make(map[string]decimal.Decimal),
		orders: make(map[string]string),
		now:    time.Now,
	}
}

// SetMark records the last traded price used for market orders.
func (p *Paper) SetMark(instrumentToken string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[instrumentToken] = price
}

func (p *Paper) SubmitOrder(ctx context.Context, session *models.TradingSession, order *models.Order) (*Ack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := "PAPER-" + ulid.Make().String()
	ack := &Ack{
		BrokerOrderID: id,
		Response: map[string]interface{}{
			"broker":   TypePaper,
			"order_id": id,
			"status":   "OPEN",
		},
	}

	var price *decimal.Decimal
	switch order.Pricing {
	case model.PricingLimit:
		price = order.Price
	case model.PricingMarket:
		if mark, ok := p.marks[order.InstrumentToken]; ok {
			price = &mark
		}
	}
	if price != nil {
		ack.Executions = []Execution{{
			FillID:    id + "-1",
			Quantity:  order.Quantity,
			Price:     *price,
			Timestamp: p.now().UTC(),
		}}
		p.orders[id] = "COMPLETE"
		ack.Response["status"] = "COMPLETE"
		return ack, nil
	}
	p.orders[id] = "OPEN"
	return ack, nil
}

func (p *Paper) CancelOrder(ctx context.Context, session *models.TradingSession, order *models.Order) error {
	if order.BrokerOrderID == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.orders[*order.BrokerOrderID]
	switch {
	case !ok:
		return &Rejection{Code: "UNKNOWN_ORDER", Reason: "order not found"}
	case status != "OPEN":
		return &Rejection{Code: "NOT_CANCELLABLE", Reason: "order is " + status}
	}
	p.orders[*order.BrokerOrderID] = "CANCELLED"
	return nil
}
