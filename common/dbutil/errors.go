package dbutil

import (
	"context"
	"strings"

	"github.com/Aidin1998/pincex_fno/common/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	DuplicateKeyErrorCode = "23505"
	ForeignKeyErrorCode   = "23503"
	SerializationFailure  = "40001"
	DeadlockDetected      = "40P01"
)

// WrapError maps a gorm/driver error onto the error taxonomy.
// Errors that already carry a kind are returned unchanged.
func WrapError(err error) error {
	var pgErr *pgconn.PgError
	var kindErr *errors.Error

	switch {
	case err == nil:
		return nil
	case errors.As(err, &kindErr):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.NotFound.Wrap(err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Conflict.Explain("duplication of key").Wrap(err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return errors.NotFound.Explain("missing referenced entity").Wrap(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case DuplicateKeyErrorCode:
			return errors.Conflict.Explain("duplication of key").Wrap(err)
		case ForeignKeyErrorCode:
			return errors.NotFound.Explain("missing referenced entity").Wrap(err)
		}
		return errors.Storage.Explain("database error %s", pgErr.Code).Wrap(err)
	}

	// sqlite reports constraint failures as plain text
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errors.Conflict.Explain("duplication of key").Wrap(err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errors.NotFound.Explain("missing referenced entity").Wrap(err)
	}

	return errors.Storage.Wrap(err)
}
