// Package model holds the domain vocabulary of the F&O core: order enums, the
// derived order state, typed JSON payloads and the caller context.
package model

import (
	"github.com/Aidin1998/pincex_fno/pkg/models"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Product types
const (
	ProductMIS  = "MIS"  // intraday
	ProductNRML = "NRML" // carry-forward derivatives
	ProductCNC  = "CNC"  // delivery
)

// Varieties
const (
	VarietyRegular = "regular"
	VarietyBracket = "bracket"
	VarietyCover   = "cover"
)

// Pricing decides which of price and trigger price an order carries.
const (
	PricingMarket   = "MARKET"
	PricingLimit    = "LIMIT"
	PricingStopLoss = "SL"
	PricingSLMarket = "SL-M"
)

// Stored order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusOpen      = "OPEN"
	OrderStatusComplete  = "COMPLETE"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// OrderStatusPartiallyFilled is derived from quantities and never stored.
const OrderStatusPartiallyFilled = "PARTIALLY_FILLED"

// IsTerminal reports whether no transition may leave status.
func IsTerminal(status string) bool {
	switch status {
	case OrderStatusComplete, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// DerivedStatus returns the externally visible status of an order: the stored
// status, or PARTIALLY_FILLED for an open order with 0 < filled < quantity.
func DerivedStatus(o *models.Order) string {
	if o.Status == OrderStatusOpen && o.FilledQuantity > 0 && o.FilledQuantity < o.Quantity {
		return OrderStatusPartiallyFilled
	}
	return o.Status
}

// Remaining is the unfilled quantity of an order.
func Remaining(o *models.Order) int64 {
	return o.Quantity - o.FilledQuantity
}

// SideSign is +1 for buys and -1 for sells.
func SideSign(side string) int64 {
	if side == SideSell {
		return -1
	}
	return 1
}
