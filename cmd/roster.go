package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

func newRosterCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Fetch, list and edit the account's contacts",
	}

	cmd.AddCommand(
		newRosterSyncCmd(c),
		newRosterListCmd(c),
		newRosterAddCmd(c),
		newRosterRenameCmd(c),
		newRosterRemoveCmd(c),
		newRosterMuteCmd(c, true),
		newRosterMuteCmd(c, false),
	)

	return cmd
}

func newRosterSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the roster from the server and cache it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := c.app
			ctx, cancel := a.commandContext(cmd.Context())
			defer cancel()

			err := a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
				a.service.SyncRoster(ctx)

				return runProgress(ctx, cmd.ErrOrStderr(), "Fetching roster...", func(ctx context.Context, report func(string)) error {
					_, err := waitFor(ctx, sub, reportingStates(report, failOnConnectionLoss(func(ev events.Event) (bool, error) {
						switch ev.Kind {
						case events.RosterReceived:
							return true, nil
						case events.RosterSyncFailed:
							return false, errors.New(ev.Reason)
						}
						return false, nil
					})))
					return err
				})
			})
			if err != nil {
				return fmt.Errorf("sync roster: %w", err)
			}

			return writeRoster(cmd.Context(), cmd.OutOrStdout(), a.service)
		},
	}
}

func newRosterListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the cached roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeRoster(cmd.Context(), cmd.OutOrStdout(), c.app.service)
		},
	}
}

func newRosterAddCmd(c *cli) *cobra.Command {
	var contactCmd application.ContactCommand

	cmd := &cobra.Command{
		Use:   "add <jid>",
		Short: "Add a contact and ask for its presence subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contactCmd.JID = args[0]
			return c.app.changeRoster(cmd, "add contact", "Adding contact...", events.ContactUpdated,
				func(ctx context.Context) error { return c.app.service.AddContact(ctx, contactCmd) })
		},
	}

	cmd.Flags().StringVar(&contactCmd.Name, "name", "", "Name shown for the contact")
	cmd.Flags().StringVar(&contactCmd.Message, "message", "", "Text sent with the subscription request")

	return cmd
}

func newRosterRenameCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <jid> <name>",
		Short: "Change the name of a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.changeRoster(cmd, "rename contact", "Renaming contact...", events.ContactUpdated,
				func(ctx context.Context) error { return c.app.service.RenameContact(ctx, args[0], args[1]) })
		},
	}
}

func newRosterRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <jid>",
		Short: "Remove a contact from the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.changeRoster(cmd, "remove contact", "Removing contact...", events.ContactRemoved,
				func(ctx context.Context) error { return c.app.service.RemoveContact(ctx, args[0]) })
		},
	}
}

func newRosterMuteCmd(c *cli, muted bool) *cobra.Command {
	use, short, done := "mute <jid>", "Mute notifications from a contact", "Notifications muted"
	if !muted {
		use, short, done = "unmute <jid>", "Show notifications from a contact again", "Notifications unmuted"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.service.SetNotificationsMuted(cmd.Context(), args[0], muted); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), done)
			return err
		},
	}
}

// changeRoster sends one roster change in a session and waits until the
// server confirms it with want.
func (a *app) changeRoster(cmd *cobra.Command, action, progress string, want events.Kind, send func(context.Context) error) error {
	ctx, cancel := a.commandContext(cmd.Context())
	defer cancel()

	err := a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
		if err := send(ctx); err != nil {
			return err
		}

		return runProgress(ctx, cmd.ErrOrStderr(), progress, func(ctx context.Context, report func(string)) error {
			_, err := waitFor(ctx, sub, reportingStates(report, failOnConnectionLoss(func(ev events.Event) (bool, error) {
				switch ev.Kind {
				case want:
					return true, nil
				case events.ContactChangeFailed:
					return false, errors.New(ev.Reason)
				}
				return false, nil
			})))
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	return writeRoster(cmd.Context(), cmd.OutOrStdout(), a.service)
}

func writeRoster(ctx context.Context, w io.Writer, service *application.Service) error {
	entries, err := service.RosterEntries(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no contacts")
		return err
	}

	for _, entry := range entries {
		line := fmt.Sprintf("%s\t%s\t%s", entry.JID, entry.Name, entry.Availability)
		if entry.Muted {
			line += "\tmuted"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
