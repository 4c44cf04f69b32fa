package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storybook-server/internal/app"
	"storybook-server/internal/config"
	"storybook-server/internal/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "storybook",
		Short:         "Turn text into an illustrated storybook and export it as PDF",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		createCmd(),
		showCmd(),
		listCmd(),
		jobsCmd(),
		exportCmd(),
		regenerateCmd(),
		pageCmd(),
		deleteCmd(),
		migrateCmd(),
		envCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp загружает конфигурацию, собирает компоненты и вызывает fn.
// Всё открытое закрывается до возврата.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, log.With(zap.String("command", cmd.CommandPath())))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the supported environment variables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
		},
	}
}
