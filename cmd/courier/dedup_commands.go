package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/store"
)

func newDedupCommand(ctx *commandContext) *cobra.Command {
	dedupCmd := &cobra.Command{
		Use:   "dedup",
		Short: "Inspect the content digest index",
	}
	dedupCmd.AddCommand(newDedupListCommand(ctx))
	dedupCmd.AddCommand(newDedupForgetCommand(ctx))
	return dedupCmd
}

func newDedupListCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				entries, err := api.NewFileService(st, nil).Dedup(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, api.DedupListResponse{Entries: entries}); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Dedup index is empty")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						entry.Digest,
						strconv.FormatInt(entry.FileID, 10),
						formatBytes(entry.Size),
						formatWhen(entry.FirstSeen),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Digest", "File ID", "Size", "First seen"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newDedupForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <digest>",
		Short: "Drop a digest so identical content is sent again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digest := strings.ToLower(strings.TrimSpace(args[0]))
			if digest == "" {
				return fmt.Errorf("digest is required")
			}
			return ctx.withStore(func(st *store.Store) error {
				removed, err := api.NewFileService(st, nil).Forget(cmd.Context(), digest)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !removed {
					fmt.Fprintf(out, "Digest %s was not in the index\n", shortDigest(digest))
					return nil
				}
				fmt.Fprintf(out, "Forgot digest %s\n", shortDigest(digest))
				return nil
			})
		},
	}
}
