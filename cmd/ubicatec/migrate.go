package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/config"
	"github.com/ubicatec/ubicatec-api/internal/database"
	"github.com/ubicatec/ubicatec-api/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Create the ubicaTEC tables and seed the schools.

The schema is idempotent; running it against an up to date database
changes nothing.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Error("database unavailable", zap.Error(err))
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Error("migration failed", zap.Error(err))
		return err
	}
	log.Info("schema applied", zap.String("driver", cfg.DBDriver))
	return nil
}
