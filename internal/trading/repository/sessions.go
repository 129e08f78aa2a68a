package repository

import (
	"context"

	"github.com/Aidin1998/pincex_fno/common/dbutil"
	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/google/uuid"
)

// CreateUser inserts a user row.
func (t *Tx) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return dbutil.WrapError(t.db.WithContext(ctx).Create(user).Error)
}

// CreateSession inserts a trading session. The owning user must exist.
func (t *Tx) CreateSession(ctx context.Context, session *models.TradingSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return dbutil.WrapError(t.db.WithContext(ctx).Create(session).Error)
}

// GetSession loads a session for update.
func (t *Tx) GetSession(ctx context.Context, id uuid.UUID) (*models.TradingSession, error) {
	session, err := dbutil.FindOne[models.TradingSession](t.forUpdate(ctx).Where("id = ?", id))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NotFound.Explain("trading session %s not found", id)
		}
		return nil, err
	}
	return session, nil
}

// UpdateSession rewrites a session row.
func (t *Tx) UpdateSession(ctx context.Context, session *models.TradingSession) error {
	session.UpdatedAt = now()
	res := t.db.WithContext(ctx).Model(session).Select("*").Omit("CreatedAt").Updates(session)
	if res.Error != nil {
		return dbutil.WrapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.NotFound.Explain("trading session %s not found", session.ID)
	}
	return nil
}

// ListActiveSessions returns all sessions flagged active.
func (t *Tx) ListActiveSessions(ctx context.Context) ([]models.TradingSession, error) {
	var sessions []models.TradingSession
	if err := t.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at, id").Find(&sessions).Error; err != nil {
		return nil, dbutil.WrapError(err)
	}
	return sessions, nil
}
