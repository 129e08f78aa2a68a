package repository

import (
	"context"
	"time"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// GetPosition loads the position of an instrument in a session for update.
func (t *Tx) GetPosition(ctx context.Context, sessionID uuid.UUID, instrumentToken string) (*models.Position, error) {
	pos, err := dbutil.FindOne[models.Position](t.forUpdate(ctx).
		Where("trading_session_id = ? AND instrument_token = ?", sessionID, instrumentToken))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NotFound.Explain("no position in %s for session %s", instrumentToken, sessionID)
		}
		return nil, err
	}
	return pos, nil
}

// UpsertPosition inserts a new position or rewrites an existing one. New rows
// rely on the (session, instrument) unique index: when another transaction
// inserted the same pair first, nothing is written and a retriable
// errors.Storage is returned so the caller re-reads the row it lost to.
func (t *Tx) UpsertPosition(ctx context.Context, pos *models.Position) error {
	pos.UpdatedAt = now()
	if pos.ID == uuid.Nil {
		pos.ID = uuid.New()
		pos.CreatedAt = pos.UpdatedAt
		res := t.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trading_session_id"}, {Name: "instrument_token"}},
			DoNothing: true,
		}).Create(pos)
		if res.Error != nil {
			pos.ID = uuid.Nil
			return dbutil.WrapError(res.Error)
		}
		if res.RowsAffected == 0 {
			pos.ID = uuid.Nil
			return errors.Storage.Explain("position in %s for session %s was inserted concurrently",
				pos.InstrumentToken, pos.TradingSessionID)
		}
		return nil
	}

	res := t.db.WithContext(ctx).Model(pos).Select("*").Omit("CreatedAt").Updates(pos)
	if res.Error != nil {
		return dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain("position %s not found", pos.ID)
	}
	return nil
}

// ListPositions returns every position row of a session.
func (t *Tx) ListPositions(ctx context.Context, sessionID uuid.UUID) ([]models.Position, error) {
	var positions []models.Position
	if err := t.db.WithContext(ctx).
		Where("trading_session_id = ?", sessionID).
		Order("instrument_token").
		Find(&positions).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return positions, nil
}

// SessionsHolding returns the ids of sessions with a non-flat position in an instrument.
func (t *Tx) SessionsHolding(ctx context.Context, instrumentToken string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := t.db.WithContext(ctx).Model(&models.Position{}).
		Where("instrument_token = ? AND quantity <> 0", instrumentToken).
		Order("trading_session_id").
		Pluck("trading_session_id", &ids).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return ids, nil
}

// AppendSnapshot inserts a portfolio snapshot. Snapshots are never updated.
func (t *Tx) AppendSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	return dbutil.WrapError(t.db.WithContext(ctx).Create(snap).Error)
}

// LatestSnapshot returns the most recent snapshot of a session, or errors.NotFound.
func (t *Tx) LatestSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.PortfolioSnapshot, error) {
	return dbutil.FindOne[models.PortfolioSnapshot](t.db.WithContext(ctx).
		Where("trading_session_id = ?", sessionID).
		Order("snapshot_timestamp DESC, id DESC"))
}

// LastSnapshotBefore returns the latest snapshot strictly before ts, or errors.NotFound.
func (t *Tx) LastSnapshotBefore(ctx context.Context, sessionID uuid.UUID, ts time.Time) (*models.PortfolioSnapshot, error) {
	return dbutil.FindOne[models.PortfolioSnapshot](t.db.WithContext(ctx).
		Where("trading_session_id = ? AND snapshot_timestamp < ?", sessionID, ts.UTC()).
		Order("snapshot_timestamp DESC, id DESC"))
}

// RecentSnapshots returns up to n latest snapshots in chronological order.
func (t *Tx) RecentSnapshots(ctx context.Context, sessionID uuid.UUID, n int) ([]models.PortfolioSnapshot, error) {
	var snaps []models.PortfolioSnapshot
	if err := t.db.WithContext(ctx).
		Where("trading_session_id = ?", sessionID).
		Order("snapshot_timestamp DESC, id DESC").
		Limit(n).
		Find(&snaps).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// AppendRiskEvent inserts a new risk event.
func (t *Tx) AppendRiskEvent(ctx context.Context, ev *models.RiskEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return dbutil.WrapError(t.db.WithContext(ctx).Create(ev).Error)
}

// OpenRiskEvents returns unresolved events of a session with the given dedup key.
func (t *Tx) OpenRiskEvents(ctx context.Context, sessionID uuid.UUID, dedupKey string) ([]models.RiskEvent, error) {
	var events []models.RiskEvent
	if err := t.db.WithContext(ctx).
		Where("trading_session_id = ? AND dedup_key = ? AND is_resolved = ?", sessionID, dedupKey, false).
		Find(&events).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return events, nil
}

// GetRiskEvent loads a risk event for update.
func (t *Tx) GetRiskEvent(ctx context.Context, id uuid.UUID) (*models.RiskEvent, error) {
	ev, err := dbutil.FindOne[models.RiskEvent](t.forUpdate(ctx).Where("id = ?", id))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NotFound.Explain("risk event %s not found", id)
		}
		return nil, err
	}
	return ev, nil
}

// ResolveRiskEvent sets the resolution fields once. A second resolution is
// errors.AlreadyResolved.
func (t *Tx) ResolveRiskEvent(ctx context.Context, ev *models.RiskEvent, resolver string, at time.Time) error {
	res := t.db.WithContext(ctx).Model(&models.RiskEvent{}).
		Where("id = ? AND is_resolved = ?", ev.ID, false).
		Updates(map[string]interface{}{
			"is_resolved": true,
			"resolved_at": at,
			"resolved_by": resolver,
		})
	if res.Error != nil {
		return dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.AlreadyResolved.Explain("risk event %s already resolved", ev.ID)
	}
	ev.IsResolved = true
	ev.ResolvedAt = &at
	ev.ResolvedBy = resolver
	return nil
}

// ListRiskEvents returns a session's risk events, newest first. A nil resolved
// returns both resolved and unresolved events.
func (t *Tx) ListRiskEvents(ctx context.Context, sessionID uuid.UUID, resolved *bool) ([]models.RiskEvent, error) {
	q := t.db.WithContext(ctx).Where("trading_session_id = ?", sessionID)
	if resolved != nil {
		q = q.Where("is_resolved = ?", *resolved)
	}
	var events []models.RiskEvent
	if err := q.Order("created_at DESC, id").Find(&events).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return events, nil
}

// AppendAuditLog inserts an audit row. Audit rows have no update or delete.
func (t *Tx) AppendAuditLog(ctx context.Context, row *models.AuditLog) error {
	return dbutil.WrapError(t.db.WithContext(ctx).Create(row).Error)
}

// InsertSystemMetric appends a system_metrics row.
func (t *Tx) InsertSystemMetric(ctx context.Context, m *models.SystemMetric) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return dbutil.WrapError(t.db.WithContext(ctx).Create(m).Error)
}
