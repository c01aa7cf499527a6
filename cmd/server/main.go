package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"travel-admin-backend/internal/config"
	"travel-admin-backend/internal/logger"
	"travel-admin-backend/internal/repository"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "travel-admin",
	Short: "Travel admin backend with booking reconciliation",
	Long: `travel-admin serves the admin API and reconciles airline and
consolidator ledgers against bookings.

Examples:
  travel-admin serve
  travel-admin migrate
  travel-admin reconcile march.csv --kind delimited`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (overrides TRAVELADMIN_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd)
}

// bootstrap loads configuration, builds the logger and opens the database.
func bootstrap() (config.Config, *logrus.Logger, *gorm.DB, error) {
	if cfgFile != "" {
		if err := os.Setenv("TRAVELADMIN_CONFIG", cfgFile); err != nil {
			return config.Config{}, nil, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, log, db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, _, err := bootstrap()
		if err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
