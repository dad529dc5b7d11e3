package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	kaidanlog "github.com/bnema/kaidan/internal/log"
	"github.com/spf13/cobra"
)

// skipWire marks commands that run without the account stack.
const skipWire = "kaidan/skip-wire"

type cli struct {
	newTransport transportFactory
	app          *app
	logLevel     string
	logJSON      bool
}

func Execute() error {
	return newRootCmd(defaultTransport).Execute()
}

// ExitCode maps an Execute error to the process exit status: 124 when a
// command timed out like timeout(1), 2 for refused confirmations, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errTimedOut):
		return 124
	case errors.Is(err, errDeletionNotConfirmed):
		return 2
	default:
		return 1
	}
}

func newRootCmd(newTransport transportFactory) *cobra.Command {
	c := &cli{newTransport: newTransport}

	rootCmd := &cobra.Command{
		Use:           "kaidan",
		Short:         "Kaidan: XMPP account session from the terminal",
		Long:          "kaidan keeps the credentials of one XMPP account, logs in and out, runs account tasks such as password change and roster sync, and can serve the session over a local control API.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := c.logLevel
			if level == "" && os.Getenv("KAIDAN_LOG_LEVEL") == "" {
				level = "warn"
			}
			kaidanlog.Configure(kaidanlog.Config{
				Level:  level,
				Output: cmd.ErrOrStderr(),
				JSON:   c.logJSON,
			})
			if cmd.Annotations[skipWire] == "true" {
				return nil
			}

			a, err := wireApp(c.newTransport)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to KAIDAN_LOG_LEVEL or warn")
	rootCmd.PersistentFlags().BoolVar(&c.logJSON, "log-json", false, "Write logs as JSON lines")

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(c),
		newLogoutCmd(c),
		newRegisterCmd(c),
		newStatusCmd(c),
		newAccountCmd(c),
		newPasswordCmd(c),
		newRosterCmd(c),
		newServeCmd(c),
	)

	return rootCmd
}

// withTimeout bounds a one-shot command by the configured timeout.
func (a *app) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

var errTimedOut = errors.New("timed out waiting for the server")
