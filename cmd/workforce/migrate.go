package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/workforce-oss/workforce-sub002/internal/config"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := openStore(cfg)
			if err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s database %s\n", success("migrated"), cfg.Database.Driver, faint(cfg.Database.DSN))
			return nil
		},
	}
}
