package control_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/internal/audit"
	"github.com/Aidin1998/pincex_fno/internal/trading/control"
	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/internal/trading/model"
	"github.com/Aidin1998/pincex_fno/internal/trading/repository"
	"github.com/Aidin1998/pincex_fno/testutil"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSignaler struct {
	mu      sync.Mutex
	signals []control.HaltSignal
	err     error
}

func (c *captureSignaler) Signal(_ context.Context, sig control.HaltSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sig)
	return c.err
}

func TestHaltAndResume(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, session := testutil.SeedSession(t, db, "500000")
	store := repository.NewStore(db, zap.NewNop(), dbutil.RetryPolicy{})
	sig := &captureSignaler{}
	ctrl := control.NewController(store, audit.NewService(zap.NewNop()), sig, zap.NewNop())
	ctx := context.Background()
	ops := model.Actor{Name: "ops"}

	halted, err := ctrl.Halt(ctx, ops, session.ID, "manual")
	require.NoError(t, err)
	assert.True(t, halted.Halted)
	assert.Equal(t, "manual", halted.HaltReason)

	isHalted, err := ctrl.IsHalted(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, isHalted)

	_, err = ctrl.Resume(ctx, ops, session.ID)
	require.NoError(t, err)
	_, err = ctrl.Resume(ctx, ops, session.ID)
	assert.ErrorIs(t, err, errors.InvalidTransition)

	require.Len(t, sig.signals, 2)
	assert.True(t, sig.signals[0].Halted)
	assert.False(t, sig.signals[1].Halted)

	rows, err := audit.History(ctx, db, audit.ResourceSession, session.ID.String())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, audit.ActionTradingHalted, rows[0].Action)
	assert.Equal(t, audit.ActionTradingResumed, rows[1].Action)
}

func TestHaltUnknownSessionIsNotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := repository.NewStore(db, zap.NewNop(), dbutil.RetryPolicy{})
	sig := &captureSignaler{}
	ctrl := control.NewController(store, audit.NewService(zap.NewNop()), sig, zap.NewNop())

	_, err := ctrl.Halt(context.Background(), model.ActorRisk, uuid.New(), "x")
	assert.ErrorIs(t, err, errors.NotFound)
	assert.Empty(t, sig.signals)
}

func TestSignalFailureDoesNotUndoHalt(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, session := testutil.SeedSession(t, db, "500000")
	store := repository.NewStore(db, zap.NewNop(), dbutil.RetryPolicy{})
	ctrl := control.NewController(store, audit.NewService(zap.NewNop()),
		&captureSignaler{err: stderrors.New("sink down")}, zap.NewNop())

	_, err := ctrl.Halt(context.Background(), model.ActorRisk, session.ID, "critical")
	require.NoError(t, err)
	halted, err := ctrl.IsHalted(context.Background(), session.ID)
	require.NoError(t, err)
	assert.True(t, halted)
}

type fakeRedis struct {
	values    map[string]interface{}
	published map[string][]interface{}
	failSet   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]interface{}{}, published: map[string][]interface{}{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.failSet {
		return redis.NewStatusResult("", stderrors.New("READONLY"))
	}
	f.values[key] = value
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		delete(f.values, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.published[channel] = append(f.published[channel], message)
	return redis.NewIntResult(1, nil)
}

func TestRedisSignalerSetsAndClearsKey(t *testing.T) {
	client := newFakeRedis()
	s := control.NewRedisSignaler(client, "fno:trading:halt", "fno:halted:")
	id := uuid.New()

	require.NoError(t, s.Signal(context.Background(), control.HaltSignal{SessionID: id, Halted: true, Reason: "margin"}))
	assert.Equal(t, "margin", client.values[s.HaltKey(id)])

	require.NoError(t, s.Signal(context.Background(), control.HaltSignal{SessionID: id, Halted: false}))
	_, ok := client.values[s.HaltKey(id)]
	assert.False(t, ok)
	assert.Len(t, client.published["fno:trading:halt"], 2)
}

type capturePublisher struct {
	topic, key string
	headers    map[string]string
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, _ []byte, headers map[string]string) error {
	p.topic, p.key, p.headers = topic, key, headers
	return nil
}

func TestMultiSignalerContinuesPastFailures(t *testing.T) {
	broken := newFakeRedis()
	broken.failSet = true
	pub := &capturePublisher{}
	bus := events.NewInMemoryEventBus(zap.NewNop())
	received := make(chan events.Event, 1)
	bus.Subscribe(events.TopicHalt, func(e events.Event) { received <- e })

	multi := control.NewMultiSignaler(zap.NewNop(),
		control.Sink{Name: "redis", Signaler: control.NewRedisSignaler(broken, "c", "k:")},
		control.Sink{Name: "kafka", Signaler: control.NewKafkaSignaler(pub, "fno.trading.halt")},
		control.Sink{Name: "bus", Signaler: control.NewBusSignaler(bus)},
	)

	id := uuid.New()
	err := multi.Signal(context.Background(), control.HaltSignal{SessionID: id, Halted: true, Reason: "var"})
	assert.ErrorContains(t, err, "READONLY")

	assert.Equal(t, "fno.trading.halt", pub.topic)
	assert.Equal(t, id.String(), pub.key)
	assert.Equal(t, "TRADING_HALTED", pub.headers["event_type"])

	bus.Drain()
	e := <-received
	assert.Equal(t, "TRADING_HALTED", e.Type)
	assert.Equal(t, id.String(), e.Payload.(events.HaltEvent).TradingSessionID)
}
