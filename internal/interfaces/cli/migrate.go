package cli

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// migrationStatus is the JSON shape of "migrate status".
type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func newMigrateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL record store schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := postgres.MigrateUp(postgres.DSN(app.Config.Database), app.Config.Database.MigrationPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("migrations applied"))
				return nil
			},
		},
		newMigrateRollbackCmd(app),
		&cobra.Command{
			Use:   "status",
			Short: "Show the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				v, dirty, err := postgres.MigrationStatus(postgres.DSN(app.Config.Database), app.Config.Database.MigrationPath)
				if err != nil {
					return err
				}
				if app.jsonOutput() {
					return printJSON(cmd.OutOrStdout(), migrationStatus{Version: v, Dirty: dirty})
				}
				state := color.GreenString("clean")
				if dirty {
					state = color.RedString("dirty")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", v, state)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeBadRequest, "version must be an integer").WithDetail(args[0])
				}
				if err := postgres.ForceMigrationVersion(postgres.DSN(app.Config.Database), app.Config.Database.MigrationPath, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version forced to %d\n", v)
				return nil
			},
		},
	)
	return cmd
}

func newMigrateRollbackCmd(app *App) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return errors.New(errors.ErrCodeBadRequest, "--steps must be positive")
			}
			if err := postgres.RollbackMigration(postgres.DSN(app.Config.Database), app.Config.Database.MigrationPath, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

//Personal.AI order the ending
