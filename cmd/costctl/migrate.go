package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-construction/internal/platform/db"
)

func newMigrateCmd(e *env) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				names, err := db.MigrationNames()
				if err != nil {
					return err
				}
				for _, name := range names {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			ctx := cmd.Context()
			pool, err := db.New(ctx, e.cfg.PGDSN, db.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool, e.logger); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations without connecting")
	return cmd
}
