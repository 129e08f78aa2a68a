package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/portfolio"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/Aidin1998/pincex_fno/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type noRisk struct{}

func (noRisk) EvaluatePosition(context.Context, *repository.Tx, model.Actor, *models.Position, config.RiskLimits) ([]models.RiskEvent, error) {
	return nil, nil
}

func (noRisk) EvaluatePortfolio(context.Context, *repository.Tx, model.Actor, *models.PortfolioSnapshot, config.RiskLimits) ([]models.RiskEvent, error) {
	return nil, nil
}

// failOn fails every audit record for one action.
type failOn struct {
	inner  audit.Recorder
	action string
}

func (f failOn) Record(ctx context.Context, tx audit.Appender, entry audit.Entry) error {
	if entry.Action == f.action {
		return errors.AuditFailure.Explain("audit sink down")
	}
	return f.inner.Record(ctx, tx, entry)
}

type fixture struct {
	db      *gorm.DB
	store   *repository.Store
	mgr     *lifecycle.Manager
	session *models.TradingSession
}

func newFixture(t *testing.T, recorder audit.Recorder) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	_, session := testutil.SeedSession(t, db, "1000000")
	store := repository.NewStore(db, zap.NewNop(), dbutil.RetryPolicy{})
	if recorder == nil {
		recorder = audit.NewService(zap.NewNop())
	}
	policy := config.NewTradingPolicy("AGENTIC_FO_001", "test", 30, time.UTC,
		map[string]float64{"mis": 0.2, "nrml": 0.4, "cnc": 1})
	agg := portfolio.NewAggregator(store, recorder, noRisk{}, nil, policy, nil, zap.NewNop())
	limits := config.NewStaticLimits(config.RiskConfig{})
	mgr := lifecycle.NewManager(store, recorder, agg, limits, policy, nil, zap.NewNop())
	return &fixture{db: db, store: store, mgr: mgr, session: session}
}

func limitBuy(qty int64, price string) model.OrderRequest {
	return model.OrderRequest{
		InstrumentToken: "NIFTY24DECFUT",
		InstrumentName:  "NIFTY DEC FUT",
		Exchange:        "NFO",
		Side:            model.SideBuy,
		ProductType:     model.ProductNRML,
		Quantity:        qty,
		Price:           testutil.DP(price),
		AlgoID:          "AGENTIC_FO_001",
	}
}

func (f *fixture) openOrder(t *testing.T, qty int64) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.mgr.Submit(ctx, model.ActorScheduler, f.session.ID, limitBuy(qty, "50"))
	require.NoError(t, err)
	order, err = f.mgr.MarkAccepted(ctx, model.ActorScheduler, order.ID, "BRK-"+order.ID.String()[:8], nil)
	require.NoError(t, err)
	return order
}

func fill(order *models.Order, qty int64, price, id string) lifecycle.FillInput {
	return lifecycle.FillInput{OrderID: order.ID, Quantity: qty, Price: testutil.D(price), BrokerFillID: id}
}

func TestSubmitStoresPendingOrder(t *testing.T) {
	f := newFixture(t, nil)
	order, err := f.mgr.Submit(context.Background(), model.ActorScheduler, f.session.ID, limitBuy(100, "50"))
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "test", order.StrategyName)
	assert.Regexp(t, `^AGENTIC_FO_001_[0-9A-Z]{26}$`, order.ClientOrderID)

	rows, err := audit.History(context.Background(), f.db, audit.ResourceOrder, order.ID.String())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, audit.ActionOrderSubmitted, rows[0].Action)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, nil)
	req := limitBuy(0, "50")
	_, err := f.mgr.Submit(context.Background(), model.ActorScheduler, f.session.ID, req)
	assert.ErrorIs(t, err, errors.Validation)

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitIntoHaltedSession(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Model(&models.TradingSession{}).Where("id = ?", f.session.ID).
		Updates(map[string]interface{}{"halted": true, "halt_reason": "margin"}).Error)

	_, err := f.mgr.Submit(context.Background(), model.ActorScheduler, f.session.ID, limitBuy(10, "50"))
	assert.ErrorIs(t, err, errors.Halted)
}

func TestPartialThenCompleteFillComputesVWAP(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 100)

	res, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 40, "50", "F1"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyFilled, model.DerivedStatus(res.Order))
	assert.Equal(t, int64(40), res.Position.Quantity)

	res, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 60, "51", "F2"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusComplete, res.Order.Status)
	assert.Equal(t, int64(100), res.Order.FilledQuantity)
	assert.True(t, res.Order.AveragePrice.Equal(testutil.D("50.6")), res.Order.AveragePrice.String())
	assert.NotNil(t, res.Order.FilledTimestamp)
	assert.Equal(t, 2, res.Fill.Sequence)

	fills, err := f.mgr.Fills(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, 1, fills[0].Sequence)

	positions, err := f.store.Reader().ListPositions(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Quantity)
	assert.True(t, positions[0].AveragePrice.Equal(testutil.D("50.6")))
}

func TestOverfillLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 100)

	_, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 80, "50", "F1"))
	require.NoError(t, err)
	_, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 30, "50", "F2"))
	assert.ErrorIs(t, err, errors.Overfill)

	stored, err := f.store.Reader().GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(80), stored.FilledQuantity)
	fills, err := f.mgr.Fills(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, fills, 1)
}

func TestDuplicateFillIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 100)

	_, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 100, "50", "F1"))
	require.NoError(t, err)

	// The final fill replayed after the order completed.
	res, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 100, "50", "F1"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(100), res.Order.FilledQuantity)

	positions, err := f.store.Reader().ListPositions(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(100), positions[0].Quantity)
}

func TestFillRequiresOpenOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.mgr.Submit(ctx, model.ActorScheduler, f.session.ID, limitBuy(10, "50"))
	require.NoError(t, err)

	_, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 5, "50", "F1"))
	assert.ErrorIs(t, err, errors.InvalidTransition)

	_, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, lifecycle.FillInput{OrderID: order.ID, Quantity: 0, Price: testutil.D("50")})
	assert.ErrorIs(t, err, errors.Validation)
}

func TestTerminalOrdersRejectTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 10)
	_, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 10, "50", "F1"))
	require.NoError(t, err)

	_, err = f.mgr.Cancel(ctx, model.ActorScheduler, order.ID, "late")
	assert.ErrorIs(t, err, errors.InvalidTransition)
	_, err = f.mgr.Reject(ctx, model.ActorScheduler, order.ID, "late", nil)
	assert.ErrorIs(t, err, errors.InvalidTransition)
	_, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 1, "50", "F2"))
	assert.ErrorIs(t, err, errors.InvalidTransition)
}

func TestCancelAndRejectRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pending, err := f.mgr.Submit(ctx, model.ActorScheduler, f.session.ID, limitBuy(10, "50"))
	require.NoError(t, err)
	rejected, err := f.mgr.Reject(ctx, model.ActorScheduler, pending.ID, "insufficient margin", map[string]string{"code": "MARGIN"})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRejected, rejected.Status)
	assert.Equal(t, "insufficient margin", rejected.ErrorMessage)

	open := f.openOrder(t, 10)
	caller := model.UserActor(f.session.UserID)
	_, err = f.mgr.Reject(ctx, model.ActorScheduler, open.ID, "too late", nil)
	assert.ErrorIs(t, err, errors.InvalidTransition)

	_, err = f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(open, 4, "50", "F1"))
	require.NoError(t, err)
	cancelled, err := f.mgr.Cancel(ctx, caller, open.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(4), cancelled.FilledQuantity)
	assert.NotNil(t, cancelled.CancelledTimestamp)

	_, err = f.mgr.Cancel(ctx, caller, open.ID, "")
	assert.ErrorIs(t, err, errors.InvalidTransition)
}

func TestAuditFailureRollsBackFill(t *testing.T) {
	f := newFixture(t, failOn{inner: audit.NewService(zap.NewNop()), action: audit.ActionOrderFilled})
	ctx := context.Background()
	order := f.openOrder(t, 10)

	_, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 10, "50", "F1"))
	assert.ErrorIs(t, err, errors.AuditFailure)

	stored, err := f.store.Reader().GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, stored.Status)
	assert.Zero(t, stored.FilledQuantity)

	fills, err := f.mgr.Fills(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, fills)
	positions, err := f.store.Reader().ListPositions(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestConcurrentFillsSerialize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.mgr.ApplyFill(ctx, model.ActorBrokerFeed, fill(order, 10, "50", fmt.Sprintf("F%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.store.Reader().GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusComplete, stored.Status)
	assert.Equal(t, int64(100), stored.FilledQuantity)

	fills, err := f.mgr.Fills(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, fills, 10)
	for i, fl := range fills {
		assert.Equal(t, i+1, fl.Sequence)
	}
}

func TestApplyFillByBrokerID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order := f.openOrder(t, 10)

	res, err := f.mgr.ApplyFillByBrokerID(ctx, model.ActorBrokerFeed, lifecycle.BrokerFill{
		BrokerOrderID: *order.BrokerOrderID,
		Quantity:      10,
		Price:         testutil.D("49.5"),
		BrokerFillID:  "X1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusComplete, res.Order.Status)

	_, err = f.mgr.ApplyFillByBrokerID(ctx, model.ActorBrokerFeed, lifecycle.BrokerFill{BrokerOrderID: "missing", Quantity: 1, Price: testutil.D("1")})
	assert.ErrorIs(t, err, errors.NotFound)
}
