// Package portfolio maintains positions from fills and marks and rolls them up
// into portfolio snapshots.
package portfolio

import (
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/shopspring/decimal"
)

const pricePlaces = 4

// ApplyFillToPosition folds a signed fill quantity at price into pos and
// returns the P&L it realized.
//
// Adding to a flat or same-side position re-weights the average price. An
// opposite fill closes min(|q|, |fill|) units at (price - avg) per unit; any
// residual opens a position on the other side at the fill price. A flat
// position has an average price of zero.
func ApplyFillToPosition(pos *models.Position, signedQty int64, price decimal.Decimal) decimal.Decimal {
	realized := decimal.Zero
	q := pos.Quantity
	next := q + signedQty

	switch {
	case signedQty == 0:
		return realized
	case q == 0 || (q > 0) == (signedQty > 0):
		held := pos.AveragePrice.Mul(decimal.NewFromInt(abs(q)))
		added := price.Mul(decimal.NewFromInt(abs(signedQty)))
		pos.AveragePrice = held.Add(added).Div(decimal.NewFromInt(abs(next))).Round(pricePlaces)
	default:
		closed := min(abs(q), abs(signedQty))
		realized = price.Sub(pos.AveragePrice).Mul(decimal.NewFromInt(closed * sign(q)))
		switch {
		case next == 0:
			pos.AveragePrice = decimal.Zero
		case sign(next) != sign(q):
			pos.AveragePrice = price
		}
	}

	pos.Quantity = next
	pos.RealizedPnl = pos.RealizedPnl.Add(realized)
	return realized
}

// Revalue recomputes the mark-dependent fields of pos. The mark is the
// position's current price, or fallback when none has been recorded.
func Revalue(pos *models.Position, fallback, marginRate decimal.Decimal) {
	mark := fallback
	if pos.CurrentPrice != nil {
		mark = *pos.CurrentPrice
	}
	if pos.Quantity == 0 {
		pos.UnrealizedPnl = decimal.Zero
		pos.Exposure = decimal.Zero
		pos.MarginUsed = decimal.Zero
		return
	}
	qty := decimal.NewFromInt(pos.Quantity)
	pos.UnrealizedPnl = mark.Sub(pos.AveragePrice).Mul(qty)
	pos.Exposure = mark.Mul(qty.Abs())
	pos.MarginUsed = pos.Exposure.Mul(marginRate).Round(pricePlaces)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
