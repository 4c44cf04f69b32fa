package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"storybook-server/internal/app"
	"storybook-server/internal/service"
)

func createCmd() *cobra.Command {
	var title string
	var description string
	var text string
	var textFile string
	var pdfFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a storybook from text, a text file or a PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.CreateInput{Title: title, Description: description}
			switch {
			case pdfFile != "":
				f, err := os.Open(pdfFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in.PDF = f
			case textFile != "":
				b, err := os.ReadFile(textFile)
				if err != nil {
					return err
				}
				in.SourceText = string(b)
			case text != "":
				in.SourceText = text
			default:
				return errors.New("one of --text, --file or --pdf is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				svc, err := a.Service(ctx)
				if err != nil {
					return err
				}
				id, err := svc.Create(ctx, in)
				if err != nil {
					if id != uuid.Nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "story:", id)
					}
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
	cmd.Flags().StringVarP(&title, "title", "t", "", "story title (default: Untitled)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "story description")
	cmd.Flags().StringVar(&text, "text", "", "source text")
	cmd.Flags().StringVarP(&textFile, "file", "f", "", "read the source text from a file")
	cmd.Flags().StringVar(&pdfFile, "pdf", "", "extract the source text from a PDF")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "pdf")
	return cmd
}
