package cmd

import (
	"context"
	"fmt"

	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and stay offline on the next start",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			err := a.runSession(ctx, func(context.Context, *events.Subscription) error {
				a.service.LogOut()
				return nil
			})
			if err != nil {
				return fmt.Errorf("logout: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return err
		},
	}
}
