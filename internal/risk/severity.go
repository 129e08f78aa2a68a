package risk

import (
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/shopspring/decimal"
)

// Severity of a limit breach.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// ParseSeverity maps a stored severity back to its level. Unknown values rank lowest.
func ParseSeverity(s string) Severity {
	switch s {
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	}
	return SeverityLow
}

// Event types
const (
	EventMarginCall    = "MARGIN_CALL"
	EventExposureLimit = "EXPOSURE_LIMIT"
	EventVaRBreach     = "VAR_BREACH"
	EventDailyLoss     = "DAILY_LOSS"
)

// Overshoot is (value - limit) / limit.
func Overshoot(value, limit decimal.Decimal) decimal.Decimal {
	return value.Sub(limit).Div(limit)
}

// Classify grades a breach by how far value exceeds limit:
//
//	overshoot <  medium           LOW
//	medium   <= overshoot < high  MEDIUM
//	high     <= overshoot <= crit HIGH
//	overshoot > crit              CRITICAL
func Classify(value, limit decimal.Decimal, bands config.SeverityBands) Severity {
	over := Overshoot(value, limit)
	switch {
	case over.GreaterThan(bands.Critical):
		return SeverityCritical
	case over.GreaterThanOrEqual(bands.High):
		return SeverityHigh
	case over.GreaterThanOrEqual(bands.Medium):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
