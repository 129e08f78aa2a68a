package model

import (
	"bytes"
	"encoding/json"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// OrderRequest is a new-order request as received from a collaborator.
type OrderRequest struct {
	ClientOrderID   string           `json:"client_order_id,omitempty" validate:"omitempty,max=100"`
	InstrumentToken string           `json:"instrument_token" validate:"required,max=50"`
	InstrumentName  string           `json:"instrument_name" validate:"required,max=100"`
	Exchange        string           `json:"exchange" validate:"required,oneof=NSE BSE NFO BFO MCX"`
	Side            string           `json:"side" validate:"required,oneof=BUY SELL"`
	ProductType     string           `json:"product_type" validate:"required,oneof=MIS NRML CNC"`
	Variety         string           `json:"variety" validate:"omitempty,oneof=regular bracket cover"`
	Pricing         string           `json:"pricing" validate:"omitempty,oneof=MARKET LIMIT SL SL-M"`
	Quantity        int64            `json:"quantity" validate:"gt=0"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice    *decimal.Decimal `json:"trigger_price,omitempty"`
	AlgoID          string           `json:"algo_id" validate:"required,max=50"`
	StrategyName    string           `json:"strategy_name,omitempty" validate:"max=100"`
	RiskParameters  json.RawMessage  `json:"risk_parameters,omitempty"`
}

// RiskParameters is the typed form of orders.risk_parameters.
type RiskParameters struct {
	StopLoss       *decimal.Decimal `json:"stop_loss,omitempty"`
	Target         *decimal.Decimal `json:"target,omitempty"`
	TrailingStop   *decimal.Decimal `json:"trailing_stop,omitempty"`
	MaxSlippageBps int              `json:"max_slippage_bps,omitempty"`
}

// Normalize fills the defaulted enum fields.
func (r *OrderRequest) Normalize() {
	if r.Variety == "" {
		r.Variety = VarietyRegular
	}
	if r.Pricing == "" {
		r.Pricing = PricingLimit
	}
}

// Validate checks the request and returns an errors.Validation listing each
// offending field. It also decodes the risk parameters.
func (r *OrderRequest) Validate() (*RiskParameters, error) {
	verr := errors.Validation.Explain("invalid order request")
	failed := false
	fail := func(field, reason string) {
		verr = verr.WithField("invalid", field, reason)
		failed = true
	}

	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, errors.Validation.Wrap(err)
		}
		for _, fe := range fieldErrs {
			fail(fe.Field(), fe.Tag())
		}
	}

	positive := func(field string, v *decimal.Decimal) {
		if v == nil {
			fail(field, "required")
		} else if !v.IsPositive() {
			fail(field, "must be positive")
		}
	}

	switch r.Pricing {
	case PricingMarket:
		if r.Price != nil {
			fail("Price", "not allowed for market orders")
		}
	case PricingLimit:
		positive("Price", r.Price)
	case PricingStopLoss:
		positive("Price", r.Price)
		positive("TriggerPrice", r.TriggerPrice)
	case PricingSLMarket:
		positive("TriggerPrice", r.TriggerPrice)
	}

	var params *RiskParameters
	if len(r.RiskParameters) > 0 && string(r.RiskParameters) != "null" {
		params = &RiskParameters{}
		dec := json.NewDecoder(bytes.NewReader(r.RiskParameters))
		dec.DisallowUnknownFields()
		if err := dec.Decode(params); err != nil {
			fail("RiskParameters", err.Error())
			params = nil
		}
	}

	switch r.Variety {
	case VarietyBracket:
		if params == nil || params.StopLoss == nil || params.Target == nil {
			fail("RiskParameters", "bracket orders need stop_loss and target")
		}
	case VarietyCover:
		if r.TriggerPrice == nil {
			fail("TriggerPrice", "cover orders need a trigger price")
		}
	}

	if failed {
		return nil, verr
	}
	return params, nil
}

// BrokerConfig is the typed form of trading_sessions.broker_config.
type BrokerConfig struct {
	ClientCode string   `json:"client_code,omitempty" validate:"omitempty,max=50"`
	APIKeyRef  string   `json:"api_key_ref,omitempty" validate:"omitempty,max=200"`
	Exchanges  []string `json:"exchanges,omitempty" validate:"dive,oneof=NSE BSE NFO BFO MCX"`
	OrderTag   string   `json:"order_tag,omitempty" validate:"omitempty,max=20"`
}

// DecodeBrokerConfig strictly decodes and validates a raw broker configuration.
func DecodeBrokerConfig(raw json.RawMessage) (*BrokerConfig, error) {
	cfg := &BrokerConfig{}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Validation.Explain("invalid broker_config").Wrap(err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Validation.Explain("invalid broker_config").Wrap(err)
	}
	return cfg, nil
}
