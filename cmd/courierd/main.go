// Command courierd runs the courier daemon without the CLI command tree,
// for service managers that expect a dedicated binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "courierd",
		Short:         "Run the courier daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "courierd:", err)
		}
		os.Exit(1)
	}
}
