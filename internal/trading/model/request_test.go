package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func limitRequest() *OrderRequest {
	r := &OrderRequest{
		InstrumentToken: "NIFTY24DEC24000CE",
		InstrumentName:  "NIFTY 24000 CE",
		Exchange:        "NFO",
		Side:            SideBuy,
		ProductType:     ProductNRML,
		Quantity:        100,
		Price:           dec("50"),
		AlgoID:          "AGENTIC_FO_001",
	}
	r.Normalize()
	return r
}

func fieldNames(err error) []string {
	var e *errors.Error
	if !errors.As(err, &e) {
		return nil
	}
	var names []string
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestValidateAcceptsLimitOrder(t *testing.T) {
	params, err := limitRequest().Validate()
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestValidateRejectsBadQuantityAndMissingAlgoID(t *testing.T) {
	r := limitRequest()
	r.Quantity = 0
	r.AlgoID = ""
	_, err := r.Validate()
	require.ErrorIs(t, err, errors.Validation)
	assert.ElementsMatch(t, []string{"Quantity", "AlgoID"}, fieldNames(err))
}

func TestValidatePriceRules(t *testing.T) {
	r := limitRequest()
	r.Price = nil
	_, err := r.Validate()
	assert.ErrorIs(t, err, errors.Validation)

	r.Pricing = PricingMarket
	_, err = r.Validate()
	assert.NoError(t, err)

	r.Pricing = PricingStopLoss
	r.Price = dec("50")
	_, err = r.Validate()
	assert.Equal(t, []string{"TriggerPrice"}, fieldNames(err))

	r.Pricing = PricingSLMarket
	r.Price = nil
	r.TriggerPrice = dec("49.5")
	_, err = r.Validate()
	assert.NoError(t, err)
}

func TestValidateDecodesRiskParameters(t *testing.T) {
	r := limitRequest()
	r.Variety = VarietyBracket
	r.RiskParameters = json.RawMessage(`{"stop_loss":"45","target":"60"}`)
	params, err := r.Validate()
	require.NoError(t, err)
	require.NotNil(t, params)
	assert.True(t, params.StopLoss.Equal(decimal.NewFromInt(45)))

	r.RiskParameters = json.RawMessage(`{"stop_loss":"45","unknown":1}`)
	_, err = r.Validate()
	assert.ErrorIs(t, err, errors.Validation)
}

func TestDerivedStatus(t *testing.T) {
	o := &models.Order{Status: OrderStatusOpen, Quantity: 100}
	assert.Equal(t, OrderStatusOpen, DerivedStatus(o))
	o.FilledQuantity = 40
	assert.Equal(t, OrderStatusPartiallyFilled, DerivedStatus(o))
	o.FilledQuantity = 100
	o.Status = OrderStatusComplete
	assert.Equal(t, OrderStatusComplete, DerivedStatus(o))
	assert.True(t, IsTerminal(o.Status))
	assert.False(t, IsTerminal(OrderStatusPending))
}

func TestNewClientOrderIDIsTaggedAndOrdered(t *testing.T) {
	a := NewClientOrderID("AGENTIC_FO_001")
	b := NewClientOrderID("AGENTIC_FO_001")
	assert.True(t, strings.HasPrefix(a, "AGENTIC_FO_001_"))
	assert.Less(t, a, b)
}

func TestDecodeBrokerConfig(t *testing.T) {
	cfg, err := DecodeBrokerConfig(json.RawMessage(`{"client_code":"AB1234","exchanges":["NFO"]}`))
	require.NoError(t, err)
	assert.Equal(t, "AB1234", cfg.ClientCode)

	_, err = DecodeBrokerConfig(json.RawMessage(`{"exchanges":["LSE"]}`))
	assert.ErrorIs(t, err, errors.Validation)
}
