package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Aidin1998/pincex_fno/pkg/models"
	"github.com/parquet-go/parquet-go"
	"gorm.io/gorm"
)

// Record is the Parquet schema for archived audit rows.
type Record struct {
	ID               string `parquet:"id"`
	UserID           string `parquet:"user_id,optional"`
	TradingSessionID string `parquet:"trading_session_id,optional"`
	Action           string `parquet:"action"`
	ResourceType     string `parquet:"resource_type"`
	ResourceID       string `parquet:"resource_id"`
	Actor            string `parquet:"actor"`
	RequestID        string `parquet:"request_id"`
	OldValues        string `parquet:"old_values"`
	NewValues        string `parquet:"new_values"`
	ContentHash      string `parquet:"content_hash"`
	CreatedAt        int64  `parquet:"created_at,timestamp(microsecond)"` // Unix µs
}

func toRecord(row *models.AuditLog) Record {
	rec := Record{
		ID:           row.ID.String(),
		Action:       row.Action,
		ResourceType: row.ResourceType,
		ResourceID:   row.ResourceID,
		Actor:        row.Actor,
		RequestID:    row.RequestID,
		OldValues:    string(row.OldValues),
		NewValues:    string(row.NewValues),
		ContentHash:  row.ContentHash,
		CreatedAt:    row.CreatedAt.UTC().UnixMicro(),
	}
	if row.UserID != nil {
		rec.UserID = row.UserID.String()
	}
	if row.TradingSessionID != nil {
		rec.TradingSessionID = row.TradingSessionID.String()
	}
	return rec
}

// ExportParquet writes every audit row created in [from, to) to w as a single
// Parquet file and returns the number of rows written.
func ExportParquet(ctx context.Context, db *gorm.DB, w io.Writer, from, to time.Time) (int, error) {
	var rows []models.AuditLog
	if err := db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Order("created_at, id").
		Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to load audit rows for export: %w", err)
	}

	records := make([]Record, len(rows))
	for i := range rows {
		records[i] = toRecord(&rows[i])
	}
	if err := parquet.Write(w, records); err != nil {
		return 0, fmt.Errorf("failed to write parquet: %w", err)
	}
	return len(records), nil
}
