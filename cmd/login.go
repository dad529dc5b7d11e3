package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/spf13/cobra"
)

var (
	errInvalidLoginURI = errors.New("invalid login URI")
	errPasswordNeeded  = errors.New("the login URI has no password, pass --password or --password-stdin")
)

type loginFlags struct {
	jid           string
	password      string
	passwordStdin bool
	host          string
	port          int
	uri           string
}

func newLoginCmd(c *cli) *cobra.Command {
	var flags loginFlags

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the account",
		Long:  "Log in with the given credentials, an xmpp: login URI or the stored account. Credentials are stored once the server accepts them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.passwordStdin {
				password, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				flags.password = password
			}

			return runLogin(cmd, c.app, flags)
		},
	}

	cmd.Flags().StringVar(&flags.jid, "jid", "", "Account JID (user@example.org)")
	cmd.Flags().StringVar(&flags.password, "password", "", "Account password")
	cmd.Flags().BoolVar(&flags.passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().StringVar(&flags.host, "host", "", "Custom server host")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Custom server port")
	cmd.Flags().StringVar(&flags.uri, "uri", "", "xmpp: login URI, e.g. xmpp:user@example.org?login;password=secret")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	cmd.MarkFlagsMutuallyExclusive("uri", "jid")

	return cmd
}

func runLogin(cmd *cobra.Command, a *app, flags loginFlags) error {
	ctx, cancel := a.commandContext(cmd.Context())
	defer cancel()

	return a.runSession(ctx, func(ctx context.Context, sub *events.Subscription) error {
		if err := startLogin(a, flags); err != nil {
			return err
		}

		err := runProgress(ctx, cmd.ErrOrStderr(), "Logging in...", func(ctx context.Context, report func(string)) error {
			_, err := waitFor(ctx, sub, reportingStates(report, untilConnected()))
			return err
		})
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", a.credentials.JID())
		return err
	})
}

func startLogin(a *app, flags loginFlags) error {
	if flags.uri != "" {
		switch a.service.LogInByURI(flags.uri) {
		case domain.LoginByURIInvalid:
			return errInvalidLoginURI
		case domain.LoginByURIPasswordNeeded:
			if flags.password == "" {
				return errPasswordNeeded
			}
			flags.jid = a.credentials.JID()
		case domain.LoginByURIConnecting:
			return nil
		}
	}

	if flags.jid != "" || flags.password != "" {
		err := a.service.SetCredentials(application.LoginCommand{
			JID:      flags.jid,
			Password: flags.password,
			Host:     flags.host,
			Port:     flags.port,
		})
		if err != nil {
			return err
		}
	}

	a.service.LogIn()
	return nil
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("read password: %w", domain.ErrCredentialsMissing)
	}
	return password, nil
}
