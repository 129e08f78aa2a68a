package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/Aidin1998/pincex_fno/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newOrder(sessionID uuid.UUID, clientID string) *models.Order {
	return &models.Order{
		TradingSessionID: sessionID,
		ClientOrderID:    clientID,
		InstrumentToken:  "NIFTY24DEC24000CE",
		InstrumentName:   "NIFTY 24000 CE",
		Exchange:         "NFO",
		Side:             model.SideBuy,
		ProductType:      model.ProductNRML,
		Variety:          model.VarietyRegular,
		Pricing:          model.PricingLimit,
		Quantity:         100,
		Price:            testutil.DP("50"),
		Status:           model.OrderStatusPending,
		AlgoID:           "AGENTIC_FO_001",
		OrderTimestamp:   time.Now().UTC(),
	}
}

func setup(t *testing.T) (*repository.Store, *models.TradingSession) {
	db := testutil.NewTestDB(t)
	_, session := testutil.SeedSession(t, db, "1000000")
	store := repository.NewStore(db, zap.NewNop(), dbutil.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	return store, session
}

func TestCreateOrderDuplicateClientIDIsConflict(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()

	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.CreateOrder(ctx, newOrder(session.ID, "AGENTIC_FO_001_A"))
	}))

	err := store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.CreateOrder(ctx, newOrder(session.ID, "AGENTIC_FO_001_A"))
	})
	assert.ErrorIs(t, err, errors.Conflict)
}

func TestCreateOrderForUnknownSessionIsNotFound(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	err := store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.CreateOrder(ctx, newOrder(uuid.New(), "AGENTIC_FO_001_B"))
	})
	assert.ErrorIs(t, err, errors.NotFound)
}

func TestGetOrderMissingIsNotFound(t *testing.T) {
	store, _ := setup(t)
	_, err := store.Reader().GetOrder(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.NotFound)
}

func TestFailedTransactionLeavesNoStateAndSkipsHooks(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	hookRan := false

	err := store.InTx(ctx, "", func(tx *repository.Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, newOrder(session.ID, "AGENTIC_FO_001_C")))
		tx.AfterCommit(func() { hookRan = true })
		return errors.Validation.Explain("abort")
	})
	assert.ErrorIs(t, err, errors.Validation)
	assert.False(t, hookRan)

	orders, err := store.Reader().ListOrders(ctx, session.ID, repository.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStorageErrorsAreRetriedOthersAreNot(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	attempts := 0
	err := store.InTx(ctx, "", func(tx *repository.Tx) error {
		attempts++
		if attempts < 3 {
			return errors.Storage.Explain("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = store.InTx(ctx, "", func(tx *repository.Tx) error {
		attempts++
		return errors.InvalidTransition.Explain("nope")
	})
	assert.ErrorIs(t, err, errors.InvalidTransition)
	assert.Equal(t, 1, attempts)
}

func TestUpdateOrderDetectsStaleVersion(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	order := newOrder(session.ID, "AGENTIC_FO_001_D")
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.CreateOrder(ctx, order)
	}))

	stale := *order
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		fresh, err := tx.LockOrder(ctx, order.ID)
		require.NoError(t, err)
		fresh.Status = model.OrderStatusOpen
		return tx.UpdateOrder(ctx, fresh)
	}))

	err := store.Reader().UpdateOrder(ctx, &stale)
	assert.ErrorIs(t, err, errors.Storage)

	got, err := store.Reader().GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusOpen, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpsertPositionKeepsOneRowPerInstrument(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	newPosition := func(qty int64) *models.Position {
		return &models.Position{
			TradingSessionID: session.ID,
			InstrumentToken:  "BANKNIFTY24DECFUT",
			InstrumentName:   "BANKNIFTY FUT",
			Exchange:         "NFO",
			ProductType:      model.ProductNRML,
			Quantity:         qty,
			AveragePrice:     testutil.D("100"),
		}
	}

	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.UpsertPosition(ctx, newPosition(10))
	}))

	// An insert that lost the race must not overwrite the winner.
	stale := newPosition(99)
	err := store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.UpsertPosition(ctx, stale)
	})
	assert.ErrorIs(t, err, errors.Storage)
	assert.Equal(t, uuid.Nil, stale.ID)

	// A retry re-reads and applies its change on top of the stored row.
	attempts := 0
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		attempts++
		pos := newPosition(20)
		if attempts > 1 {
			existing, err := tx.GetPosition(ctx, session.ID, "BANKNIFTY24DECFUT")
			if err != nil {
				return err
			}
			existing.Quantity += 20
			pos = existing
		}
		return tx.UpsertPosition(ctx, pos)
	}))
	assert.Equal(t, 2, attempts)

	positions, err := store.Reader().ListPositions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(30), positions[0].Quantity)
}

func TestSnapshotsAreAppendOnly(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	snap := &models.PortfolioSnapshot{
		TradingSessionID:  session.ID,
		TotalValue:        testutil.D("1000000"),
		SnapshotTimestamp: time.Now().UTC(),
	}
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.AppendSnapshot(ctx, snap)
	}))

	err := store.DB().Model(snap).Update("total_value", testutil.D("1")).Error
	assert.ErrorIs(t, err, models.ErrImmutableRow)
	err = store.DB().Delete(snap).Error
	assert.ErrorIs(t, err, models.ErrImmutableRow)

	latest, err := store.Reader().LatestSnapshot(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, latest.TotalValue.Equal(testutil.D("1000000")))
}

func TestResolveRiskEventOnlyOnce(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	ev := &models.RiskEvent{
		TradingSessionID: session.ID,
		EventType:        "MARGIN_CALL",
		Severity:         "HIGH",
		Message:          "margin usage above limit",
		DedupKey:         "MARGIN_CALL",
	}
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.AppendRiskEvent(ctx, ev)
	}))

	resolve := func() error {
		return store.InTx(ctx, "", func(tx *repository.Tx) error {
			loaded, err := tx.GetRiskEvent(ctx, ev.ID)
			if err != nil {
				return err
			}
			return tx.ResolveRiskEvent(ctx, loaded, "ops", time.Now().UTC())
		})
	}
	require.NoError(t, resolve())
	assert.ErrorIs(t, resolve(), errors.AlreadyResolved)
}

func TestInTxSerializesPerKey(t *testing.T) {
	store, session := setup(t)
	ctx := context.Background()
	order := newOrder(session.ID, "AGENTIC_FO_001_E")
	require.NoError(t, store.InTx(ctx, "", func(tx *repository.Tx) error {
		return tx.CreateOrder(ctx, order)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, repository.SessionKey(session.ID), func(tx *repository.Tx) error {
				o, err := tx.LockOrder(ctx, order.ID)
				if err != nil {
					return err
				}
				o.FilledQuantity++
				return tx.UpdateOrder(ctx, o)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Reader().GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.FilledQuantity)
	assert.Equal(t, int64(21), got.Version)
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	km := repository.NewKeyedMutex()
	unlockA := km.Lock("a")
	unlockB := km.Lock("b")
	assert.Equal(t, 2, km.Len())
	unlockA()
	unlockB()
	assert.Equal(t, 0, km.Len())
}
