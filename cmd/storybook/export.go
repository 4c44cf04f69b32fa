package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storybook-server/internal/app"
)

func exportCmd() *cobra.Command {
	var fontFamily string
	var fontSize string

	cmd := &cobra.Command{
		Use:   "export <story-id>",
		Short: "Render a story to PDF and print its URL",
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
				url, err := svc.Export(ctx, id, fontFamily, fontSize)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fontFamily, "font-family", "", "font family (default: the story setting)")
	cmd.Flags().StringVar(&fontSize, "font-size", "", "font size in points (default: the story setting)")
	return cmd
}
