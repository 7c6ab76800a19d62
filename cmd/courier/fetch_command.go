package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/fileaccess"
	"courier/internal/logging"
	"courier/internal/restore"
	"courier/internal/services/natsbus"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var outDir string
	var password string
	var timeout time.Duration
	var keepArchive bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "fetch <file-id>",
		Short: "Read a sent file back from the stream and restore it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fileID, err := parseID(args[0])
			if err != nil {
				return err
			}
			target, err := config.ExpandPath(outDir)
			if err != nil {
				return fmt.Errorf("resolve output directory: %w", err)
			}
			if password == "" {
				password = cfg.Processing.Password
			}

			var count int
			err = ctx.withAccess(cmd.Context(), func(access fileaccess.Access) error {
				resp, err := access.Describe(cmd.Context(), fileID)
				if err != nil {
					return err
				}
				if resp == nil {
					return fmt.Errorf("file %d not found", fileID)
				}
				count = resp.Upload.PartCount
				return nil
			})
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("file %d has no recorded parts", fileID)
			}

			level := "warn"
			if verbose {
				level = "info"
			}
			base, err := logging.New(logging.Options{Level: level, Format: "console", OutputPaths: []string{"stderr"}})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger := logging.NewComponentLogger(base, "fetch")
			bus, err := natsbus.Connect(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("connect transport: %w", err)
			}
			defer bus.Close()

			fetchCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			msgs, err := bus.Fetch(fetchCtx, fileID, count)
			if err != nil {
				return err
			}

			res, err := restore.Restore(cmd.Context(), msgs, restore.Options{
				OutDir:      target,
				Password:    password,
				KeepArchive: keepArchive,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Restored file %d from %d part(s), %s (digest %s)\n",
				res.FileID, len(msgs), formatBytes(res.Bytes), res.Digest.Short())
			for _, path := range res.Files {
				fmt.Fprintf(out, "  %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory to write restored files into")
	cmd.Flags().StringVar(&password, "password", "", "Decryption password (defaults to processing.password)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for missing parts")
	cmd.Flags().BoolVar(&keepArchive, "keep-archive", false, "Keep the joined archive next to the extracted files")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
	return cmd
}
