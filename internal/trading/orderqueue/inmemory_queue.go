package orderqueue

import (
	"context"
	"sync"

	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"go.uber.org/zap"
)

// InMemoryInbox is a non-durable Inbox for paper sessions and tests.
type InMemoryInbox struct {
	mu      sync.Mutex
	drainMu sync.Mutex
	pending []Entry
	dead    []Entry
	next    uint64
	closed  bool
	logger  *zap.Logger
}

// NewInMemoryInbox creates a new in-memory inbox
func NewInMemoryInbox(logger *zap.Logger) *InMemoryInbox {
	return &InMemoryInbox{pending: make([]Entry, 0), logger: logger}
}

func (q *InMemoryInbox) Enqueue(ctx context.Context, kind string, payload interface{}) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, errClosed
	}
	entry, err := newEntry(q.next+1, kind, payload)
	if err != nil {
		return 0, err
	}
	q.next++
	q.pending = append(q.pending, entry)
	metrics.InboxDepth.Inc()
	return entry.Seq, nil
}

// head returns the oldest pending entry.
func (q *InMemoryInbox) head() (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Entry{}, false, errClosed
	}
	if len(q.pending) == 0 {
		return Entry{}, false, nil
	}
	return q.pending[0], true, nil
}

func (q *InMemoryInbox) Drain(ctx context.Context, h Handler) (int, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	applied := 0
	for {
		e, ok, err := q.head()
		if err != nil || !ok {
			return applied, err
		}
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		herr := h(ctx, e)
		if herr != nil && shouldHold(herr) {
			q.logger.Warn("Inbox drain paused", zap.Uint64("seq", e.Seq), zap.Error(herr))
			return applied, herr
		}

		q.mu.Lock()
		q.pending = q.pending[1:]
		if herr != nil {
			e.Error = herr.Error()
			q.dead = append(q.dead, e)
		}
		q.mu.Unlock()
		metrics.InboxDepth.Dec()

		if herr != nil {
			q.logger.Error("Inbox entry dead-lettered", zap.Uint64("seq", e.Seq), zap.Error(herr))
			continue
		}
		applied++
	}
}

func (q *InMemoryInbox) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

func (q *InMemoryInbox) DeadLetters(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.dead...), nil
}

// Close closes the inbox. Pending entries are discarded.
func (q *InMemoryInbox) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
