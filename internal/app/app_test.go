package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Aidin1998/pincex_fno/internal/app"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/trading"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/Aidin1998/pincex_fno/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openCore(t *testing.T) *app.App {
	t.Helper()
	t.Setenv("FNO_DATABASE_DSN", filepath.Join(t.TempDir(), "core.db"))
	t.Setenv("FNO_INBOX_IN_MEMORY", "true")
	cfg, err := config.Load()
	require.NoError(t, err)

	core, err := app.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	return core
}

func TestOpenWiresSingleNodeCore(t *testing.T) {
	core := openCore(t)
	defer core.Close()
	ctx := context.Background()

	assert.True(t, core.Elector.IsLeader())

	user, session := testutil.SeedSession(t, core.DB, "1000000")
	caller := trading.Caller{UserID: user.ID, SessionID: session.ID}

	order, err := core.Service.SubmitOrder(ctx, caller, model.OrderRequest{
		InstrumentToken: "BANKNIFTY24DECFUT",
		InstrumentName:  "BANKNIFTY DEC FUT",
		Exchange:        "NFO",
		Side:            model.SideBuy,
		ProductType:     model.ProductNRML,
		Quantity:        15,
		Price:           testutil.DP("51000"),
		AlgoID:          "AGENTIC_FO_001",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusComplete, order.Status)

	report, err := core.Scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsChecked)
	assert.Zero(t, report.SessionsFailed)

	var snapshots int64
	require.NoError(t, core.DB.Model(&models.PortfolioSnapshot{}).
		Where("trading_session_id = ?", session.ID).Count(&snapshots).Error)
	assert.Equal(t, int64(1), snapshots)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Database.Driver = "mysql"

	_, err = app.Open(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestCloseIsSafeAfterStart(t *testing.T) {
	core := openCore(t)
	core.Start(context.Background())
	assert.NoError(t, core.Close())
}
