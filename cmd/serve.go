package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/kaidan/internal/adapters/httpapi"
	"github.com/bnema/kaidan/internal/events"
	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the session running and expose it over a local HTTP API",
		Long:  "serve restores the session if the account was online when kaidan last ran, then serves /api, /events and /metrics until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			if addr == "" {
				addr = a.serveAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := kaidanlog.WithComponent("serve")
			handler := httpapi.NewHandler(a.service, a.bus)

			return a.runSession(ctx, func(ctx context.Context, _ *events.Subscription) error {
				a.credentials.LoadCredentials(ctx)

				restored, err := a.service.RestoreSession(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("restore session")
				}
				logger.Info().Bool("restored", restored).Msg("session started")

				if err := handler.Serve(ctx, addr); err != nil {
					return fmt.Errorf("serve control api: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; defaults to serve.addr from the config")

	return cmd
}
