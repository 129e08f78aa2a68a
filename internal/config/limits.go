package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SeverityBands are the overshoot fractions at which a breach escalates.
type SeverityBands struct {
	Medium   decimal.Decimal
	High     decimal.Decimal
	Critical decimal.Decimal
}

// RiskLimits is an immutable snapshot of the risk thresholds for one evaluation
// cycle. A zero HardDailyLoss or MaxVaR disables that check.
type RiskLimits struct {
	MaxDailyLoss    decimal.Decimal
	HardDailyLoss   decimal.Decimal
	MaxPositionSize decimal.Decimal
	MaxMarginUsage  decimal.Decimal
	MaxVaR          decimal.Decimal
	Bands           SeverityBands
	LoadedAt        time.Time
}

// Limits converts the configured thresholds into a snapshot.
func (r RiskConfig) Limits() RiskLimits {
	return RiskLimits{
		MaxDailyLoss:    decimal.NewFromFloat(r.MaxDailyLoss),
		HardDailyLoss:   decimal.NewFromFloat(r.HardDailyLoss),
		MaxPositionSize: decimal.NewFromFloat(r.MaxPositionSize),
		MaxMarginUsage:  decimal.NewFromFloat(r.MaxMarginUsage),
		MaxVaR:          decimal.NewFromFloat(r.MaxVaR),
		Bands: SeverityBands{
			Medium:   decimal.NewFromFloat(r.MediumOver),
			High:     decimal.NewFromFloat(r.HighOver),
			Critical: decimal.NewFromFloat(r.CriticalOver),
		},
		LoadedAt: time.Now().UTC(),
	}
}

// TradingPolicy is the immutable trading-side snapshot: compliance tags and margin model.
type TradingPolicy struct {
	AlgoID       string
	StrategyName string
	StatsWindow  int
	Location     *time.Location
	marginRates  map[string]decimal.Decimal
}

// Policy builds the trading policy snapshot from the loaded configuration.
func (c *Config) Policy() TradingPolicy {
	loc, err := time.LoadLocation(c.Portfolio.TradingTimezone)
	if err != nil {
		loc = time.UTC
	}
	return NewTradingPolicy(c.Trading.AlgoID, c.Trading.StrategyName, c.Portfolio.StatsWindow, loc, c.Portfolio.MarginRates)
}

// NewTradingPolicy copies rates so later changes to the source map are not observed.
func NewTradingPolicy(algoID, strategy string, window int, loc *time.Location, rates map[string]float64) TradingPolicy {
	copied := make(map[string]decimal.Decimal, len(rates))
	for product, rate := range rates {
		copied[strings.ToUpper(product)] = decimal.NewFromFloat(rate)
	}
	if loc == nil {
		loc = time.UTC
	}
	return TradingPolicy{
		AlgoID:       algoID,
		StrategyName: strategy,
		StatsWindow:  window,
		Location:     loc,
		marginRates:  copied,
	}
}

// MarginRate returns the margin fraction for a product type; unknown products are fully margined.
func (p TradingPolicy) MarginRate(product string) decimal.Decimal {
	if rate, ok := p.marginRates[strings.ToUpper(product)]; ok {
		return rate
	}
	return decimal.NewFromInt(1)
}
