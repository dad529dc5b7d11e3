package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

var (
	errDeletionNotConfirmed = errors.New("account deletion needs --yes")
	errPasswordHidden       = errors.New("password is not shown as text")
)

func newAccountCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the stored account",
	}

	cmd.AddCommand(
		newAccountShowCmd(c),
		newAccountSetCmd(c),
		newAccountURICmd(c),
		newAccountDeleteCmd(c),
	)

	return cmd
}

func newAccountShowCmd(c *cli) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored account settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := loadStatus(cmd, c.app)
			if err != nil {
				return err
			}
			if status.JID == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no account")
				return err
			}

			host := status.Host
			if !status.CustomHost {
				host = domain.JIDDomain(status.JID)
			}

			visibility, err := c.app.service.PasswordVisibility(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "jid\t%s\n", status.JID)
			_, _ = fmt.Fprintf(out, "host\t%s\n", valueOrDefault(host, status.CustomHost))
			_, _ = fmt.Fprintf(out, "port\t%s\n", valueOrDefault(fmt.Sprint(status.Port), status.CustomPort))

			password := presence(status.HasCredentials)
			if reveal {
				if !visibility.InPlainText() {
					return fmt.Errorf("%w: password visibility is %s", errPasswordHidden, visibility)
				}
				password = c.app.credentials.Password()
			}

			_, _ = fmt.Fprintf(out, "password\t%s\n", password)
			_, _ = fmt.Fprintf(out, "password_visibility\t%s\n", visibility)
			_, err = fmt.Fprintf(out, "online\t%t\n", status.Online)
			return err
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal-password", false, "Print the stored password when its visibility allows it")

	return cmd
}

func newAccountSetCmd(c *cli) *cobra.Command {
	var (
		accountCmd application.AccountCommand
		visibility string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the custom server host or port, or the password visibility",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("password-visibility") {
				v, err := domain.ParsePasswordVisibility(visibility)
				if err != nil {
					return err
				}
				if err := c.app.service.SetPasswordVisibility(cmd.Context(), v); err != nil {
					return err
				}
			}

			if flags.Changed("host") || flags.Changed("port") || accountCmd.ResetHost || accountCmd.ResetPort {
				if err := c.app.service.UpdateAccount(cmd.Context(), accountCmd); err != nil {
					return err
				}
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Account updated")
			return err
		},
	}

	cmd.Flags().StringVar(&accountCmd.Host, "host", "", "Custom server host")
	cmd.Flags().IntVar(&accountCmd.Port, "port", 0, "Custom server port")
	cmd.Flags().BoolVar(&accountCmd.ResetHost, "reset-host", false, "Use the JID domain as host again")
	cmd.Flags().BoolVar(&accountCmd.ResetPort, "reset-port", false, "Use the default port again")
	cmd.MarkFlagsMutuallyExclusive("host", "reset-host")
	cmd.MarkFlagsMutuallyExclusive("port", "reset-port")
	cmd.Flags().StringVar(&visibility, "password-visibility", "", "Where the password may be shown again: visible, qr-only or invisible")
	cmd.MarkFlagsOneRequired("host", "port", "reset-host", "reset-port", "password-visibility")

	return cmd
}

func newAccountURICmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "uri",
		Short: "Print an xmpp: login URI to move the account to another client",
		Long: `Print the stored account as an xmpp: login URI.

The password is part of the URI unless the password visibility is
"invisible".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uri, err := c.app.service.LoginURI(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), uri)
			return err
		},
	}
}

func newAccountDeleteCmd(c *cli) *cobra.Command {
	var (
		fromServer bool
		confirmed  bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the account from this device, and optionally from the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errDeletionNotConfirmed
			}

			a := c.app
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			err := a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
				a.service.DeleteAccount(fromServer)

				_, err := waitFor(ctx, sub, failOnConnectionLoss(func(ev events.Event) (bool, error) {
					switch ev.Kind {
					case events.AccountDataPurgeRequested:
						return true, nil
					case events.AccountDeletionFailed:
						return false, errors.New(ev.Reason)
					}
					return false, nil
				}))
				return err
			})
			if err != nil {
				return fmt.Errorf("delete account: %w", err)
			}

			msg := "Account removed from this device"
			if fromServer {
				msg = "Account deleted from the server and this device"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		},
	}

	cmd.Flags().BoolVar(&fromServer, "server", false, "Also delete the account on the server")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the deletion")

	return cmd
}

func valueOrDefault(value string, custom bool) string {
	if custom {
		return value + " (custom)"
	}
	return value + " (default)"
}

func presence(ok bool) string {
	if ok {
		return "stored"
	}
	return "missing"
}
