package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables of the configured data store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := setupLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		store, err := openStore(cmd.Context(), cfg.Store, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		m, ok := store.(migrator)
		if !ok {
			return fmt.Errorf("store driver %s has no schema", cfg.Store.Driver)
		}
		if err := m.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Schema applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}
