package cmd

import (
	"github.com/Aidin1998/pincex_fno/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	defer zapLog.Sync()

	db, err := database.Open(cfg.Database, zapLog)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	zapLog.Info("Schema migrated", zap.String("driver", cfg.Database.Driver))
	return nil
}
