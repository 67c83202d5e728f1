package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/db"
	"github.com/jingkaihe/keel/pkg/db/migrations"
	"github.com/jingkaihe/keel/pkg/presenter"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := databasePath(viper.GetViper())
		if err != nil {
			return err
		}
		conn, err := db.OpenAndMigrate(cmd.Context(), path, migrations.All())
		if err != nil {
			return err
		}
		defer conn.Close()
		presenter.Success("database is up to date: " + path)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, err := databasePath(viper.GetViper())
		if err != nil {
			return err
		}
		conn, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer conn.Close()

		applied, err := db.NewMigrationRunner(conn).AppliedVersions(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to get migration status")
		}
		done := make(map[int64]bool, len(applied))
		for _, v := range applied {
			done[v] = true
		}

		out := cmd.OutOrStdout()
		presenter.Section("Database: " + path)
		all := migrations.All()
		for _, m := range all {
			mark := "[ ]"
			if done[m.Version] {
				mark = "[x]"
			}
			fmt.Fprintf(out, "%s %d - %s\n", mark, m.Version, m.Description)
		}
		fmt.Fprintf(out, "\nApplied: %d/%d migrations\n", len(applied), len(all))
		return nil
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, err := databasePath(viper.GetViper())
		if err != nil {
			return err
		}
		conn, err := db.Open(ctx, path)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.NewMigrationRunner(conn).Rollback(ctx, migrations.All()); err != nil {
			return err
		}
		presenter.Success("rolled back the latest migration")
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
}
