package orderqueue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var (
	pendingPrefix = []byte("inbox/pending/")
	deadPrefix    = []byte("inbox/dead/")
	seqKey        = []byte("inbox/seq")
)

const (
	seqBandwidth = 128
	drainBatch   = 256
)

// BadgerInbox is a disk-backed Inbox. Keys are the prefix followed by a
// big-endian sequence number, so key order is arrival order.
type BadgerInbox struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *zap.Logger

	mu     sync.Mutex // serializes Drain
	enqMu  sync.Mutex // keeps sequence order equal to commit order
	closed bool
}

// NewBadgerInbox opens an inbox at path. An empty path keeps the inbox in
// memory.
func NewBadgerInbox(path string, logger *zap.Logger) (*BadgerInbox, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	seq, err := db.GetSequence(seqKey, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("leasing inbox sequence: %w", err)
	}
	q := &BadgerInbox{db: db, seq: seq, logger: logger}
	if depth, err := q.Depth(context.Background()); err == nil {
		metrics.InboxDepth.Set(float64(depth))
		if depth > 0 {
			logger.Info("Recovered pending inbox entries", zap.Int("depth", depth))
		}
	}
	return q, nil
}

func entryKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// Enqueue persists a notification. Sequence allocation and the write happen
// under one lock, so a drain never sees seq n+1 committed before seq n.
func (q *BadgerInbox) Enqueue(ctx context.Context, kind string, payload interface{}) (uint64, error) {
	q.enqMu.Lock()
	defer q.enqMu.Unlock()
	if q.closed {
		return 0, errClosed
	}
	n, err := q.seq.Next()
	if err != nil {
		return 0, errors.Storage.Explain("failed to allocate inbox sequence").Wrap(err)
	}
	// Sequence starts at zero; keep zero free.
	seq := n + 1
	entry, err := newEntry(seq, kind, payload)
	if err != nil {
		return 0, err
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return 0, err
	}
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(pendingPrefix, seq), val)
	}); err != nil {
		return 0, errors.Storage.Explain("failed to persist %s notification", kind).Wrap(err)
	}
	metrics.InboxDepth.Inc()
	return seq, nil
}

// Drain applies pending entries in arrival order.
func (q *BadgerInbox) Drain(ctx context.Context, h Handler) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, errClosed
	}

	applied := 0
	for {
		batch, err := q.scan(pendingPrefix, drainBatch)
		if err != nil {
			return applied, err
		}
		if len(batch) == 0 {
			return applied, nil
		}
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return applied, err
			}
			herr := h(ctx, e)
			if herr != nil && shouldHold(herr) {
				q.logger.Warn("Inbox drain paused",
					zap.Uint64("seq", e.Seq),
					zap.String("kind", e.Kind),
					zap.Error(herr))
				return applied, herr
			}
			if err := q.settle(e, herr); err != nil {
				return applied, err
			}
			if herr == nil {
				applied++
			}
		}
	}
}

// settle removes a handled entry, moving it to dead letters when cause is set.
func (q *BadgerInbox) settle(e Entry, cause error) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		if cause != nil {
			e.Error = cause.Error()
			val, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(entryKey(deadPrefix, e.Seq), val); err != nil {
				return err
			}
		}
		return txn.Delete(entryKey(pendingPrefix, e.Seq))
	})
	if err != nil {
		return errors.Storage.Explain("failed to settle inbox entry %d", e.Seq).Wrap(err)
	}
	metrics.InboxDepth.Dec()
	if cause != nil {
		q.logger.Error("Inbox entry dead-lettered",
			zap.Uint64("seq", e.Seq),
			zap.String("kind", e.Kind),
			zap.Error(cause))
	}
	return nil
}

func (q *BadgerInbox) scan(prefix []byte, limit int) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Storage.Explain("failed to read inbox").Wrap(err)
	}
	return entries, nil
}

// Depth returns the number of pending entries.
func (q *BadgerInbox) Depth(ctx context.Context) (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pendingPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// DeadLetters returns the entries that failed permanently, oldest first.
func (q *BadgerInbox) DeadLetters(ctx context.Context) ([]Entry, error) {
	return q.scan(deadPrefix, 0)
}

// Close releases the sequence lease and closes the underlying BadgerDB.
func (q *BadgerInbox) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqMu.Lock()
	defer q.enqMu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.seq.Release(); err != nil {
		q.logger.Warn("Failed to release inbox sequence", zap.Error(err))
	}
	return q.db.Close()
}
