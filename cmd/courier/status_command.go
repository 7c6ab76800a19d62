package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/preflight"
	"courier/internal/staging"
	"courier/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var runPreflight bool
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, record and health status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			daemonStatus, err := statusFromDaemon(cmd.Context(), ctx)
			if err != nil {
				daemonStatus, err = statusFromStore(cmd.Context(), ctx, cfg)
				if err != nil {
					return err
				}
			}

			var checks []preflight.Result
			if runPreflight {
				checks = preflight.RunAll(cmd.Context(), cfg)
			}
			payload := statusPayload{Daemon: daemonStatus, Preflight: checks}
			payload.Staging.Archives, payload.Staging.Bytes, err = staging.Usage(cfg.Paths.WorkDir)
			if err != nil {
				return fmt.Errorf("inspect work directory: %w", err)
			}

			if handled, err := writeStructured(cmd, format, payload); handled {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			renderDaemonStatus(out, daemonStatus, colorize)
			fmt.Fprintf(out, "Staged archives: %d (%s)\n", payload.Staging.Archives, formatBytes(payload.Staging.Bytes))
			if runPreflight {
				renderPreflight(out, checks, colorize)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&runPreflight, "preflight", false, "Also run environment checks (directories, disk space, NATS, reporter)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

type statusPayload struct {
	Daemon  api.DaemonStatus `json:"daemon"`
	Staging struct {
		Archives int   `json:"archives"`
		Bytes    int64 `json:"bytes"`
	} `json:"staging"`
	Preflight []preflight.Result `json:"preflight,omitempty"`
}

func statusFromDaemon(ctx context.Context, cmdCtx *commandContext) (api.DaemonStatus, error) {
	client, err := cmdCtx.dialDaemon(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	status, err := client.Status(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return *status, nil
}

// statusFromStore builds the offline view: counts only, no workflow state.
func statusFromStore(ctx context.Context, cmdCtx *commandContext, cfg *config.Config) (api.DaemonStatus, error) {
	status := api.DaemonStatus{
		DatabasePath: cfg.DatabasePath(),
		LockFilePath: cfg.LockPath(),
		WorkDir:      cfg.Paths.WorkDir,
		Folders:      cfg.Watch.Folders,
	}
	err := cmdCtx.withStore(func(st *store.Store) error {
		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		status.Workflow.Records = api.MergeRecordStats(stats.Records)
		status.Workflow.Uploads = stats.Uploads
		status.Workflow.DedupEntries = stats.Dedup
		return nil
	})
	return status, err
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Work directory", statusInfo, status.WorkDir, colorize))
	fmt.Fprintln(out, renderStatusLine("Watch folders", statusInfo, strings.Join(status.Folders, ", "), colorize))

	wf := status.Workflow
	if status.Running {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Workflow", colorize))
		fmt.Fprintln(out, renderStatusLine("Process queue", statusInfo, strconv.Itoa(wf.ProcessQueue), colorize))
		fmt.Fprintln(out, renderStatusLine("Dispatch queue", statusInfo, strconv.Itoa(wf.DispatchQueue), colorize))
		fmt.Fprintln(out, renderStatusLine("Active files", statusInfo, strconv.Itoa(wf.ActiveFiles), colorize))
		fmt.Fprintln(out, renderStatusLine("Rate limited", statusInfo, strconv.Itoa(wf.LimiterWaiting), colorize))
		if wf.LastFile != nil {
			fmt.Fprintln(out, renderStatusLine("Last file", statusInfo, displayName(wf.LastFile.Path)+" ("+wf.LastFile.Status+")", colorize))
		}
		if wf.LastError != "" {
			fmt.Fprintln(out, renderStatusLine("Last error", statusError, wf.LastError, colorize))
		}
		for _, h := range wf.Health {
			kind := statusOK
			message := "ready"
			if !h.Ready {
				kind = statusError
				message = h.Detail
			}
			fmt.Fprintln(out, renderStatusLine(h.Name, kind, message, colorize))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Records", colorize))
	rows := make([][]string, 0, len(wf.Records))
	for _, s := range store.AllStatuses() {
		count := wf.Records[string(s)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(s), strconv.Itoa(count)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No records")
	} else {
		fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	fmt.Fprintf(out, "Uploads: %d  Dedup entries: %d\n", wf.Uploads, wf.DedupEntries)
}

func renderPreflight(out io.Writer, checks []preflight.Result, colorize bool) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	if failed := preflight.Failed(checks); len(failed) > 0 {
		fmt.Fprintf(out, "%d of %d checks failed\n", len(failed), len(checks))
	}
}
