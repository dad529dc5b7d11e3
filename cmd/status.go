package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnema/kaidan/internal/adapters/httpapi"
	statusadapter "github.com/bnema/kaidan/internal/adapters/render/status"
	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

func newStatusCmd(c *cli) *cobra.Command {
	var (
		asJSON       bool
		withContacts bool
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored account and its last known state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return watchStatus(cmd, c.app)
			}

			status, err := loadStatus(cmd, c.app)
			if err != nil {
				return err
			}

			return writeStatusOutput(cmd, c.app, status, asJSON, withContacts)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	cmd.Flags().BoolVar(&withContacts, "contacts", false, "List cached roster contacts")
	cmd.Flags().BoolVar(&watch, "watch", false, "Restore the session and follow its state live")
	cmd.MarkFlagsMutuallyExclusive("json", "watch")

	return cmd
}

// watchStatus keeps the session open and redraws the status on every event
// until interrupted.
func watchStatus(cmd *cobra.Command, a *app) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.runSession(ctx, func(ctx context.Context, _ *events.Subscription) error {
		a.credentials.LoadCredentials(ctx)

		feed := a.bus.Subscribe()
		defer feed.Close()

		if _, err := a.service.RestoreSession(ctx); err != nil {
			return err
		}

		_, err := statusadapter.Watch(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), feed, func(ctx context.Context) (application.Status, error) {
			if err := a.service.Drain(ctx); err != nil {
				return application.Status{}, err
			}
			return a.service.GetStatus(ctx)
		})
		return err
	})
}

func loadStatus(cmd *cobra.Command, a *app) (application.Status, error) {
	a.credentials.LoadCredentials(cmd.Context())

	status, err := a.service.GetStatus(cmd.Context())
	if err != nil {
		return application.Status{}, fmt.Errorf("load status: %w", err)
	}
	return status, nil
}

func writeStatusOutput(cmd *cobra.Command, a *app, status application.Status, asJSON bool, withContacts bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(httpapi.NewStatusResponse(status))
	}

	opts := statusadapter.RenderOptions{}
	if withContacts {
		contacts, err := a.service.Roster(cmd.Context())
		if err != nil {
			return err
		}
		opts.Contacts = contacts
	}

	rendered, err := a.statusRenderer(status, opts)
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
