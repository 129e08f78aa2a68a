package broker

import (
	"context"
	"fmt"
	"testing"

	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order(pricing string, price *decimal.Decimal) *models.Order {
	return &models.Order{InstrumentToken: "BANKNIFTY24DECFUT", Pricing: pricing, Price: price, Quantity: 15}
}

func TestPaperFillsLimitOrders(t *testing.T) {
	p := NewPaper()
	price := decimal.RequireFromString("51000")
	ack, err := p.SubmitOrder(context.Background(), &models.TradingSession{}, order(model.PricingLimit, &price))
	require.NoError(t, err)
	assert.Regexp(t, `^PAPER-`, ack.BrokerOrderID)
	require.Len(t, ack.Executions, 1)
	assert.Equal(t, int64(15), ack.Executions[0].Quantity)
	assert.True(t, ack.Executions[0].Price.Equal(price))
}

func TestPaperMarketOrdersNeedAMark(t *testing.T) {
	p := NewPaper()
	ack, err := p.SubmitOrder(context.Background(), &models.TradingSession{}, order(model.PricingMarket, nil))
	require.NoError(t, err)
	assert.Empty(t, ack.Executions)

	o := order(model.PricingMarket, nil)
	o.BrokerOrderID = &ack.BrokerOrderID
	require.NoError(t, p.CancelOrder(context.Background(), &models.TradingSession{}, o))

	err = p.CancelOrder(context.Background(), &models.TradingSession{}, o)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "NOT_CANCELLABLE", rej.Code)

	p.SetMark("BANKNIFTY24DECFUT", decimal.RequireFromString("50990"))
	ack, err = p.SubmitOrder(context.Background(), &models.TradingSession{}, order(model.PricingMarket, nil))
	require.NoError(t, err)
	require.Len(t, ack.Executions, 1)
	assert.Equal(t, "50990", ack.Executions[0].Price.String())
}

func TestRejectionUnwraps(t *testing.T) {
	err := fmt.Errorf("submit: %w", &Rejection{Code: "RMS", Reason: "margin exceeds"})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "RMS", rej.Code)

	_, ok = AsRejection(fmt.Errorf("timeout"))
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	paper := NewPaper()
	reg := NewRegistry(paper)
	a, err := reg.For(&models.TradingSession{BrokerType: TypeKite, IsPaperTrading: true})
	require.NoError(t, err)
	assert.Same(t, paper, a)

	_, err = reg.For(&models.TradingSession{BrokerType: TypeKite})
	assert.Error(t, err)

	kite := NewPaper()
	reg.Register(TypeKite, kite)
	a, err = reg.For(&models.TradingSession{BrokerType: TypeKite})
	require.NoError(t, err)
	assert.Same(t, kite, a)
}
