package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aidin1998/pincex_fno/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LimitsSource yields a fresh RiskLimits snapshot. Callers load it once per
// evaluation cycle and pass it down explicitly.
type LimitsSource interface {
	Limits(ctx context.Context) (RiskLimits, error)
}

// StaticLimits always returns the limits it was built with.
type StaticLimits struct {
	risk RiskConfig
}

func NewStaticLimits(risk RiskConfig) *StaticLimits {
	return &StaticLimits{risk: risk}
}

func (s *StaticLimits) Limits(context.Context) (RiskLimits, error) {
	return s.risk.Limits(), nil
}

// TableLimits overlays active rows of the configurations table whose key
// starts with "risk." on top of the file/env configuration.
type TableLimits struct {
	db     *gorm.DB
	base   RiskConfig
	logger *zap.Logger
}

func NewTableLimits(db *gorm.DB, base RiskConfig, logger *zap.Logger) *TableLimits {
	return &TableLimits{db: db, base: base, logger: logger}
}

func (s *TableLimits) Limits(ctx context.Context) (RiskLimits, error) {
	var rows []models.Configuration
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return RiskLimits{}, fmt.Errorf("failed to load configuration overrides: %w", err)
	}

	cfg := s.base
	for _, row := range rows {
		if !strings.HasPrefix(row.Key, "risk.") {
			continue
		}
		var value float64
		if err := row.Value.Decode(&value); err != nil {
			s.logger.Warn("Ignoring non-numeric risk override", zap.String("key", row.Key), zap.Error(err))
			continue
		}
		if !applyOverride(&cfg, strings.TrimPrefix(row.Key, "risk."), value) {
			s.logger.Warn("Ignoring unknown risk override", zap.String("key", row.Key))
		}
	}

	if err := validateRisk(cfg); err != nil {
		s.logger.Error("Risk overrides rejected, using configured limits", zap.Error(err))
		cfg = s.base
	}
	return cfg.Limits(), nil
}

func applyOverride(cfg *RiskConfig, key string, value float64) bool {
	switch key {
	case "max_daily_loss":
		cfg.MaxDailyLoss = value
	case "hard_daily_loss":
		cfg.HardDailyLoss = value
	case "max_position_size":
		cfg.MaxPositionSize = value
	case "max_margin_usage":
		cfg.MaxMarginUsage = value
	case "max_var":
		cfg.MaxVaR = value
	case "medium_over":
		cfg.MediumOver = value
	case "high_over":
		cfg.HighOver = value
	case "critical_over":
		cfg.CriticalOver = value
	default:
		return false
	}
	return true
}

func validateRisk(cfg RiskConfig) error {
	switch {
	case cfg.MaxDailyLoss <= 0, cfg.MaxPositionSize <= 0:
		return fmt.Errorf("limits must be positive")
	case cfg.MaxMarginUsage <= 0 || cfg.MaxMarginUsage > 1:
		return fmt.Errorf("max_margin_usage must be in (0,1]")
	case !(cfg.MediumOver < cfg.HighOver && cfg.HighOver < cfg.CriticalOver):
		return fmt.Errorf("severity bands must increase")
	}
	return nil
}
