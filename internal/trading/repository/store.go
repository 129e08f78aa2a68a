// Package repository is the ledger store: durable, transactional storage of
// orders, fills, positions, portfolio snapshots, risk events and audit rows.
package repository

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store owns the database handle and runs one logical operation per transaction.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	retry  dbutil.RetryPolicy
	locks  *KeyedMutex
}

// NewStore creates a ledger store. A zero policy uses dbutil.DefaultRetryPolicy.
func NewStore(db *gorm.DB, logger *zap.Logger, policy dbutil.RetryPolicy) *Store {
	if policy.MaxAttempts == 0 {
		policy = dbutil.DefaultRetryPolicy
	}
	return &Store{
		db:     db,
		logger: logger,
		retry:  policy,
		locks:  NewKeyedMutex(),
	}
}

// DB exposes the underlying handle for read-only reporting queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// SessionKey is the serialization key for everything owned by one trading session.
func SessionKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

// InTx runs fn inside a single database transaction. Calls sharing lockKey are
// serialized in-process; an empty key takes no lock. Transient storage failures
// re-run fn under the retry policy, so fn must derive all of its writes from
// what it reads through tx. Hooks registered with Tx.AfterCommit run only once
// the transaction has committed.
func (s *Store) InTx(ctx context.Context, lockKey string, fn func(tx *Tx) error) error {
	if lockKey != "" {
		unlock := s.locks.Lock(lockKey)
		defer unlock()
	}

	start := time.Now()
	var committed *Tx
	err := dbutil.Retry(ctx, s.retry, func(attempt int) error {
		if attempt > 0 {
			metrics.LedgerTxRetries.Inc()
			s.logger.Warn("Retrying ledger transaction", zap.Int("attempt", attempt+1), zap.String("lock_key", lockKey))
		}
		tx := &Tx{}
		txErr := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			tx.db = gtx
			return fn(tx)
		})
		if txErr != nil {
			return dbutil.WrapError(txErr)
		}
		committed = tx
		return nil
	})

	result := "committed"
	if err != nil {
		result = "rolled_back"
	}
	metrics.LedgerTxDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	for _, hook := range committed.afterCommit {
		hook()
	}
	return nil
}

// Reader returns a Tx bound to the base handle for consistent reads outside a transaction.
func (s *Store) Reader() *Tx {
	return &Tx{db: s.db, readOnly: true}
}

// Tx is the set of ledger operations available inside one transaction.
type Tx struct {
	db          *gorm.DB
	readOnly    bool
	afterCommit []func()
}

// AfterCommit registers fn to run after a successful commit.
func (t *Tx) AfterCommit(fn func()) {
	if t.readOnly {
		fn()
		return
	}
	t.afterCommit = append(t.afterCommit, fn)
}

// forUpdate adds a row lock on backends that support it. SQLite serializes
// writers on its single connection instead.
func (t *Tx) forUpdate(ctx context.Context) *gorm.DB {
	db := t.db.WithContext(ctx)
	if !t.readOnly && db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func now() time.Time {
	return time.Now().UTC()
}
