package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/fileaccess"
	"courier/internal/store"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"file"},
		Short:   "Inspect and manage discovered files",
	}

	filesCmd.AddCommand(newFilesListCommand(ctx))
	filesCmd.AddCommand(newFilesShowCommand(ctx))
	filesCmd.AddCommand(newFilesUploadsCommand(ctx))
	filesCmd.AddCommand(newFilesRetryCommand(ctx))
	filesCmd.AddCommand(newFilesUnblockCommand(ctx))
	filesCmd.AddCommand(newFilesClearCommand(ctx))

	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List file records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fileaccess.ParseStatuses(statuses); err != nil {
				return err
			}
			return ctx.withAccess(cmd.Context(), func(access fileaccess.Access) error {
				files, err := access.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, api.FileListResponse{Files: files}); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(files) == 0 {
					fmt.Fprintln(out, "No files")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Name", "Size", "Status", "File ID", "Updated"},
					buildFileRows(files),
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by record status (repeatable)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func buildFileRows(files []api.FileRecord) [][]string {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		status := f.Status
		if f.ErrorMessage != "" {
			status += ": " + truncate(f.ErrorMessage, 48)
		}
		rows = append(rows, []string{
			strconv.FormatInt(f.ID, 10),
			displayName(f.Path),
			formatBytes(f.Size),
			status,
			formatID(f.FileID),
			formatWhen(f.UpdatedAt),
		})
	}
	return rows
}

func newFilesShowCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <file-id>",
		Short: "Show an upload and its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd.Context(), func(access fileaccess.Access) error {
				resp, err := access.Describe(cmd.Context(), fileID)
				if err != nil {
					return err
				}
				if resp == nil {
					return fmt.Errorf("file %d not found", fileID)
				}
				if handled, err := writeStructured(cmd, format, resp); handled {
					return err
				}
				renderUpload(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func renderUpload(out io.Writer, resp *api.FileResponse) {
	up := resp.Upload
	archive := ""
	if up.ArchiveName != "" {
		archive = fmt.Sprintf("%s (%s)", up.ArchiveName, formatBytes(up.ArchiveSize))
	}
	fields := [][2]string{
		{"File ID", strconv.FormatInt(up.FileID, 10)},
		{"Name", up.Name},
		{"Source", up.SourcePath},
		{"Status", up.Status},
		{"Digest", up.Digest},
		{"Archive", archive},
		{"Compression", up.Compression},
		{"Encrypted", yesNo(up.Encrypted)},
		{"Parts", strconv.Itoa(up.PartCount)},
		{"Forward", up.ForwardStatus},
		{"Processing", formatDurationMS(up.ProcessingTimeMS)},
		{"Transfer rate", formatRate(up.TransferRate)},
		{"Created", formatWhen(up.CreatedAt)},
		{"Completed", formatWhen(up.CompletedAt)},
		{"Error", up.ErrorMessage},
	}
	if resp.Record != nil {
		fields = append(fields, [2]string{"Record", fmt.Sprintf("#%d %s", resp.Record.ID, resp.Record.Status)})
	}
	fmt.Fprint(out, renderFields(fields))

	if len(up.Parts) > 0 {
		rows := make([][]string, 0, len(up.Parts))
		hasLinks := false
		for _, part := range up.Parts {
			sequence := ""
			if part.Sequence > 0 {
				sequence = strconv.FormatUint(part.Sequence, 10)
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d/%d", part.Index, part.Count),
				part.Name,
				formatBytes(part.Size),
				part.Status,
				sequence,
				strconv.Itoa(part.Attempts),
				part.ForwardStatus,
			})
			if part.Link != "" {
				hasLinks = true
			}
		}
		fmt.Fprint(out, renderTable(
			[]string{"Part", "Name", "Size", "Status", "Seq", "Attempts", "Forward"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
		))
		if hasLinks {
			fmt.Fprintln(out, "Links:")
			for _, part := range up.Parts {
				if part.Link != "" {
					fmt.Fprintf(out, "  %s %s\n", part.Name, part.Link)
				}
			}
		}
	}
	if up.ReassemblyHint != "" {
		fmt.Fprintln(out, up.ReassemblyHint)
	}
}

func newFilesUploadsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var format string

	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List recent uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				uploads, err := api.NewFileService(st, nil).Uploads(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, format, uploads); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(uploads) == 0 {
					fmt.Fprintln(out, "No uploads")
					return nil
				}
				rows := make([][]string, 0, len(uploads))
				for _, up := range uploads {
					rows = append(rows, []string{
						strconv.FormatInt(up.FileID, 10),
						up.Name,
						formatBytes(up.ArchiveSize),
						strconv.Itoa(up.PartCount),
						up.Status,
						formatRate(up.TransferRate),
						formatWhen(up.CreatedAt),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"File ID", "Name", "Size", "Parts", "Status", "Rate", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum uploads to show (0 for all)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newFilesRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [record-id...]",
		Short: "Re-arm failed or blocked records (all when no IDs are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd.Context(), func(access fileaccess.Access) error {
				count, err := access.Retry(cmd.Context(), ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if count == 0 {
					fmt.Fprintln(out, "No failed records matched")
					return nil
				}
				fmt.Fprintf(out, "Re-armed %d record(s)\n", count)
				if !access.Remote() {
					fmt.Fprintln(out, "Daemon not reachable; records will be picked up on its next scan")
				}
				return nil
			})
		},
	}
}

func newFilesUnblockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock",
		Short: "Re-arm records blocked on a configuration problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				count, err := st.ResetBlocked(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %d record(s)\n", count)
				return nil
			})
		},
	}
}

func newFilesClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished records (sent and duplicate by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearFailed && clearAll {
				return errors.New("specify only one of --failed or --all")
			}
			statuses := []store.Status{store.StatusSent, store.StatusDuplicate}
			label := "finished"
			switch {
			case clearFailed:
				statuses = []store.Status{store.StatusFailed}
				label = "failed"
			case clearAll:
				statuses = nil
				label = "all"
			}
			return ctx.withStore(func(st *store.Store) error {
				removed, err := api.NewFileService(st, nil).Clear(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d record(s) (%s)\n", removed, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed records only")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every record")
	return cmd
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func parseIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		id, err := parseID(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncate(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-1]) + "…"
}
