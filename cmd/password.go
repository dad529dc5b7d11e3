package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

func newPasswordCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage the account password",
	}

	cmd.AddCommand(newPasswordChangeCmd(c))

	return cmd
}

func newPasswordChangeCmd(c *cli) *cobra.Command {
	var (
		newPassword   string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "change",
		Short: "Change the password on the server and store it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				password, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				newPassword = password
			}

			a := c.app
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			err := a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
				if err := a.service.ChangePassword(ctx, newPassword); err != nil {
					return err
				}

				return runProgress(ctx, cmd.ErrOrStderr(), "Changing password...", func(ctx context.Context, report func(string)) error {
					_, err := waitFor(ctx, sub, reportingStates(report, failOnConnectionLoss(func(ev events.Event) (bool, error) {
						switch ev.Kind {
						case events.PasswordChanged:
							return true, nil
						case events.PasswordChangeFailed:
							return false, errors.New(ev.Reason)
						}
						return false, nil
					})))
					return err
				})
			})
			if err != nil {
				return fmt.Errorf("change password: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Password changed")
			return err
		},
	}

	cmd.Flags().StringVar(&newPassword, "new-password", "", "New account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the new password from stdin")
	cmd.MarkFlagsMutuallyExclusive("new-password", "password-stdin")
	cmd.MarkFlagsOneRequired("new-password", "password-stdin")

	return cmd
}
