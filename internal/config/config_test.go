package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/Aidin1998/pincex_fno/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "AGENTIC_FO_001", cfg.Trading.AlgoID)
	assert.Equal(t, 100000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)

	policy := cfg.Policy()
	assert.Equal(t, "Asia/Kolkata", policy.Location.String())
	assert.True(t, policy.MarginRate("MIS").Equal(decimal.RequireFromString("0.2")))
	assert.True(t, policy.MarginRate("nrml").Equal(decimal.RequireFromString("0.4")))
	assert.True(t, policy.MarginRate("UNKNOWN").Equal(decimal.NewFromInt(1)))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
risk:
  max_daily_loss: 50000
  max_margin_usage: 0.5
`), 0o600))
	t.Setenv("FNO_RISK_MAX_POSITION_SIZE", "250000")

	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50000.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, 0.5, cfg.Risk.MaxMarginUsage)
	assert.Equal(t, 250000.0, cfg.Risk.MaxPositionSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("FNO_RISK_MAX_MARGIN_USAGE", "1.5")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestTableLimitsOverlay(t *testing.T) {
	db := testutil.NewTestDB(t)
	base, err := config.Load()
	require.NoError(t, err)

	rows := []models.Configuration{
		{ID: uuid.New(), Key: "risk.max_daily_loss", Value: models.MustJSON(25000), IsActive: true},
		{ID: uuid.New(), Key: "risk.max_position_size", Value: models.MustJSON(1), IsActive: false},
		{ID: uuid.New(), Key: "ui.theme", Value: models.MustJSON("dark"), IsActive: true},
	}
	require.NoError(t, db.Create(&rows).Error)

	limits, err := config.NewTableLimits(db, base.Risk, zap.NewNop()).Limits(context.Background())
	require.NoError(t, err)
	assert.True(t, limits.MaxDailyLoss.Equal(decimal.NewFromInt(25000)))
	assert.True(t, limits.MaxPositionSize.Equal(decimal.NewFromInt(1000000)))
}

func TestTableLimitsRejectsInvalidOverlay(t *testing.T) {
	db := testutil.NewTestDB(t)
	base, err := config.Load()
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Configuration{
		ID: uuid.New(), Key: "risk.high_over", Value: models.MustJSON(0.9), IsActive: true,
	}).Error)

	limits, err := config.NewTableLimits(db, base.Risk, zap.NewNop()).Limits(context.Background())
	require.NoError(t, err)
	assert.True(t, limits.Bands.High.Equal(decimal.RequireFromString("0.25")))
}
