package main

import (
	"github.com/spf13/cobra"

	"inkwell/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the SQLite database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := store.Open(cfg.Store.Path, logger.WithPrefix("store"))
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := db.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("database ready", "path", cfg.Store.Path, "applied", len(applied))
		return nil
	},
}
