package preflight

import (
	"context"

	"courier/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
	)
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	for _, folder := range cfg.Watch.Folders {
		results = append(results, CheckReadable("Watch folder", folder))
	}
	results = append(results, CheckFreeSpace("Work disk space", cfg.Paths.WorkDir, cfg.Processing.MaxPartBytes()))

	// Transport
	results = append(results, CheckNATS(ctx, cfg.Transport.NATSURL, cfg.Transport.CredentialsFile))

	// Reporter endpoint (when configured)
	if cfg.Reporter.URL != "" {
		results = append(results, CheckEndpoint(ctx, "Reporter", cfg.Reporter.URL))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
