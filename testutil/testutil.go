// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/database"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewTestDB opens a migrated in-memory SQLite ledger.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SeedSession inserts a user and an active paper session with the given capital.
func SeedSession(t testing.TB, db *gorm.DB, capital string) (*models.User, *models.TradingSession) {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Username: "trader-" + uuid.NewString()[:8],
		Email:    uuid.NewString()[:8] + "@example.com",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)

	session := &models.TradingSession{
		ID:             uuid.New(),
		UserID:         user.ID,
		SessionName:    "paper",
		BrokerType:     "PAPER",
		InitialCapital: decimal.RequireFromString(capital),
		IsActive:       true,
		IsPaperTrading: true,
	}
	require.NoError(t, db.Create(session).Error)
	return user, session
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DP parses a decimal literal into a pointer.
func DP(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
