package cmd

import (
	"context"
	"fmt"

	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

func newRegisterCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Check whether in-band registration can be started",
		Long: `Open a registration session with the account's server.

Registration forms are not supported: the XMPP library authenticates while
opening the stream, so the session ends with the registration_unsupported
error, which this command reports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			a.credentials.LoadCredentials(cmd.Context())

			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			return a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
				a.service.RequestRegistrationForm()

				_, err := waitFor(ctx, sub, func(ev events.Event) (bool, error) {
					switch {
					case ev.Kind == events.ConnectionErrorChanged && ev.Error != domain.NoError:
						return false, errConnection{err: ev.Error}
					case ev.Kind == events.ConnectionStateChanged && ev.State == domain.StateConnected:
						return true, nil
					}
					return false, nil
				})
				if err != nil {
					return fmt.Errorf("register: %w", err)
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Registration session opened")
				return err
			})
		},
	}
}
