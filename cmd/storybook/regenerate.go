package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storybook-server/internal/app"
)

func regenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <story-id>",
		Short: "Generate images for every IMAGE page that is not READY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				svc, err := a.Service(ctx)
				if err != nil {
					return err
				}
				ready, err := svc.Regenerate(ctx, id)
				fmt.Fprintf(cmd.OutOrStdout(), "%d page(s) ready\n", ready)
				return err
			})
		},
	}
}

func pageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Page level operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "regenerate <page-id>",
		Short: "Generate a new image for one IMAGE page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				svc, err := a.Service(ctx)
				if err != nil {
					return err
				}
				url, err := svc.RegeneratePage(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	})
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <story-id>",
		Short: "Delete a story, its pages and its stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				svc, err := a.Service(ctx)
				if err != nil {
					return err
				}
				return svc.Delete(ctx, id)
			})
		},
	}
}
