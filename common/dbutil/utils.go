package dbutil

import (
	"github.com/Aidin1998/pincex_fno/common/errors"
	"gorm.io/gorm"
)

// FindOne runs the query and returns the first row, or errors.NotFound.
func FindOne[T any](db *gorm.DB) (*T, error) {
	var item T
	result := db.Limit(1).Find(&item)
	if result.Error != nil {
		return nil, WrapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, errors.NotFound
	}
	return &item, nil
}
