package database

import (
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"gorm.io/gorm"
)

// ReportPoolStats publishes the connection pool gauges for db.
func ReportPoolStats(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	name := db.Dialector.Name()
	metrics.DBOpenConns.WithLabelValues(name).Set(float64(stats.OpenConnections))
	metrics.DBInUseConns.WithLabelValues(name).Set(float64(stats.InUse))
}
