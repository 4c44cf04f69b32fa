package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"storybook-server/internal/app"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		migrateRun("up", "Apply every pending migration", func(ctx context.Context, a *app.App, _ []string) error {
			return a.Migrator().Up(ctx)
		}),
		migrateRun("down", "Roll back every migration", func(ctx context.Context, a *app.App, _ []string) error {
			return a.Migrator().Down(ctx)
		}),
		migrateRun("force <version>", "Force the schema version without running migrations", func(ctx context.Context, a *app.App, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return a.Migrator().ForceVersion(ctx, uint(v))
		}),
	)
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.RequireDB(); err != nil {
					return err
				}
				version, dirty, err := a.Migrator().Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})
	return cmd
}

func migrateRun(use, short string, fn func(ctx context.Context, a *app.App, args []string) error) *cobra.Command {
	args := cobra.NoArgs
	if use != "up" && use != "down" {
		args = cobra.ExactArgs(1)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.RequireDB(); err != nil {
					return err
				}
				return fn(ctx, a, argv)
			})
		},
	}
}
