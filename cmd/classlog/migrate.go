package main

import (
	"fmt"
	"os"

	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL schema migrations",
	Long:  `Apply the embedded schema migrations to the configured PostgreSQL database and print the resulting version.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Storage.Type != "postgres" {
		return fmt.Errorf("migrations only apply to postgres storage (configured: %s)", cfg.Storage.Type)
	}

	pgCfg := cfg.Storage.Postgres
	pgCfg.AutoMigrate = false

	store, err := postgres.Open(pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := postgres.Migrate(store.DB()); err != nil {
		return err
	}

	current, err := postgres.MigrationVersion(store.DB())
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Schema is at version %d\n", current)
	return nil
}
