// desktop-agent is a reference desktop client: it opens a playback lease, keeps it alive with
// heartbeats, and releases it on shutdown.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"playback-control-plane/backend/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		logging.L().Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

type globalFlags struct {
	server   string
	token    string
	logLevel string
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "desktop-agent",
		Short:         "Reference desktop client for the playback control plane",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("PLAYBACK_SERVER", "http://localhost:8080"), "Control plane base URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("PLAYBACK_TOKEN"), "Access token (defaults to PLAYBACK_TOKEN)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log verbosity (debug, info, warn, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		l := logging.Init(logging.Config{Level: g.logLevel, Format: "console", Service: "desktop-agent"})
		cmd.SetContext(logging.WithContext(cmd.Context(), l))
		if g.token == "" {
			return errors.New("an access token is required (--token or PLAYBACK_TOKEN)")
		}
		return nil
	}

	root.AddCommand(
		newPlayCommand(g),
		newStatusCommand(g),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logger(ctx context.Context) *zerolog.Logger {
	return logging.Ctx(ctx)
}
