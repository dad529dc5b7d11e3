package cmd

import (
	"fmt"

	"github.com/bnema/kaidan/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print the kaidan version",
		Annotations: map[string]string{skipWire: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			line := version.String()
			if short {
				line = version.Version
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), line)
			return err
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
