package cmd

import (
	"fmt"
	"log"

	"github.com/Aidin1998/pincex_fno/internal/config"
	"github.com/Aidin1998/pincex_fno/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "fnocore",
	Short: "Transactional core for algorithmic F&O trading",
	Long: `fnocore runs the order, fill, position, portfolio, risk and audit core
of an algorithmic futures and options trading system.

Configuration is read from a YAML file and FNO_* environment variables.
A .env file in the working directory is loaded first when present.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	zapLog *zap.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	zapLog, err = logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	return nil
}
