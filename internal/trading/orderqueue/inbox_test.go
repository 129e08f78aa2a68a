package orderqueue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type markPayload struct {
	Token string `json:"token"`
	N     int    `json:"n"`
}

func inboxes(t *testing.T) map[string]Inbox {
	badgerInbox, err := NewBadgerInbox("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { badgerInbox.Close() })
	return map[string]Inbox{
		"badger":   badgerInbox,
		"inmemory": NewInMemoryInbox(zap.NewNop()),
	}
}

func decode(t *testing.T, e Entry) markPayload {
	var p markPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}

func TestInboxDrainsInArrivalOrder(t *testing.T) {
	for name, q := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var last uint64
			for i := 0; i < 300; i++ {
				seq, err := q.Enqueue(ctx, KindMark, markPayload{Token: "NIFTY", N: i})
				require.NoError(t, err)
				assert.Greater(t, seq, last)
				last = seq
			}
			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 300, depth)

			seen := make([]int, 0, 300)
			n, err := q.Drain(ctx, func(_ context.Context, e Entry) error {
				seen = append(seen, decode(t, e).N)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 300, n)
			for i, v := range seen {
				require.Equal(t, i, v)
			}
			depth, err = q.Depth(ctx)
			require.NoError(t, err)
			assert.Zero(t, depth)
		})
	}
}

func TestInboxHoldsRetriableFailures(t *testing.T) {
	for name, q := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := q.Enqueue(ctx, KindFill, markPayload{N: i})
				require.NoError(t, err)
			}

			n, err := q.Drain(ctx, func(_ context.Context, e Entry) error {
				if decode(t, e).N == 1 {
					return errors.Storage.Explain("database is locked")
				}
				return nil
			})
			assert.ErrorIs(t, err, errors.Storage)
			assert.Equal(t, 1, n)

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, depth)

			var seen []int
			n, err = q.Drain(ctx, func(_ context.Context, e Entry) error {
				seen = append(seen, decode(t, e).N)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, []int{1, 2}, seen)
		})
	}
}

func TestInboxConcurrentEnqueueDrainsInSequence(t *testing.T) {
	const producers, perProducer = 8, 50
	for name, q := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var seen []uint64
			handler := func(_ context.Context, e Entry) error {
				seen = append(seen, e.Seq)
				return nil
			}

			var wg sync.WaitGroup
			var done atomic.Bool
			drained := make(chan struct{})
			go func() {
				defer close(drained)
				for !done.Load() {
					q.Drain(ctx, handler)
				}
			}()
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						q.Enqueue(ctx, KindMark, markPayload{Token: "NIFTY", N: p*perProducer + i})
					}
				}(p)
			}
			wg.Wait()
			done.Store(true)
			<-drained

			_, err := q.Drain(ctx, handler)
			require.NoError(t, err)
			require.Len(t, seen, producers*perProducer)
			for i, seq := range seen {
				require.Equal(t, uint64(i+1), seq)
			}
		})
	}
}

func TestInboxHoldsNotReadyEntries(t *testing.T) {
	for name, q := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := q.Enqueue(ctx, KindFill, markPayload{N: 0})
			require.NoError(t, err)

			n, err := q.Drain(ctx, func(context.Context, Entry) error {
				return ErrNotReady.Explain("order not committed yet").Wrap(errors.NotFound.Explain("no order"))
			})
			assert.ErrorIs(t, err, ErrNotReady)
			assert.Zero(t, n)

			depth, err := q.Depth(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, depth)
			dead, err := q.DeadLetters(ctx)
			require.NoError(t, err)
			assert.Empty(t, dead)
		})
	}
}

func TestInboxDeadLettersPermanentFailures(t *testing.T) {
	for name, q := range inboxes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, err := q.Enqueue(ctx, KindFill, markPayload{N: i})
				require.NoError(t, err)
			}

			n, err := q.Drain(ctx, func(_ context.Context, e Entry) error {
				if decode(t, e).N == 0 {
					return errors.Overfill.Explain("fill exceeds remaining")
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			dead, err := q.DeadLetters(ctx)
			require.NoError(t, err)
			require.Len(t, dead, 1)
			assert.Equal(t, 0, decode(t, dead[0]).N)
			assert.Contains(t, dead[0].Error, "fill exceeds remaining")
		})
	}
}

func TestInboxRejectsUnknownKind(t *testing.T) {
	q := NewInMemoryInbox(zap.NewNop())
	_, err := q.Enqueue(context.Background(), "trade", markPayload{})
	assert.ErrorIs(t, err, errors.Validation)

	require.NoError(t, q.Close())
	_, err = q.Enqueue(context.Background(), KindFill, markPayload{})
	assert.Error(t, err)
}

func TestBadgerInboxRejectsEnqueueAfterClose(t *testing.T) {
	q, err := NewBadgerInbox("", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Enqueue(context.Background(), KindFill, markPayload{})
	assert.Error(t, err)
}

func TestBadgerInboxSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	q, err := NewBadgerInbox(dir, zap.NewNop())
	require.NoError(t, err)
	first, err := q.Enqueue(ctx, KindFill, markPayload{N: 7})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	q, err = NewBadgerInbox(dir, zap.NewNop())
	require.NoError(t, err)
	defer q.Close()

	second, err := q.Enqueue(ctx, KindFill, markPayload{N: 8})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	var seen []int
	_, err = q.Drain(ctx, func(_ context.Context, e Entry) error {
		seen = append(seen, decode(t, e).N)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 8}, seen)
}
