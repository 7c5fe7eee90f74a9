package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/config"
)

func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), config.Version)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "backup-retention %s (%s)\n", config.Version, runtime.Version())
			return err
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "только номер версии")
	return cmd
}
