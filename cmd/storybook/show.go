package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storybook-server/internal/app"
)

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <story-id>",
		Short: "Print a story with its pages",
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
				view, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

func listCmd() *cobra.Command {
	var limit int
	var offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				svc, err := a.Service(ctx)
				if err != nil {
					return err
				}
				stories, err := svc.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPAGES\tCREATED\tTITLE")
				for _, s := range stories {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Status, s.PageCount, s.CreatedAt.Format("2006-01-02 15:04"), s.Title)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of stories")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of stories to skip")
	return cmd
}

func jobsCmd() *cobra.Command {
	var exports bool

	cmd := &cobra.Command{
		Use:   "jobs <page-id>",
		Short: "Print the image job audit trail of a page, or the exports of a story with --exports",
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
				if exports {
					rows, err := svc.Exports(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), rows)
				}
				jobs, err := svc.ImageJobs(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().BoolVar(&exports, "exports", false, "treat the id as a story id and list its PDF exports")
	return cmd
}
