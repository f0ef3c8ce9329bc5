package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"notehub/internal/repository/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create missing tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, repoConfig, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		txManager := postgres.NewTransactionManager(pool, logger)
		if err := postgres.EnsureSchema(ctx, pool, txManager, repoConfig.Tables); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready (prefix %q)\n", cfg.TablePrefix)
		return nil
	},
}
