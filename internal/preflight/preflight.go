package preflight

import (
	"context"

	"nutrilog/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// minSpoolFreeBytes is the free space below which new photos may fail to import.
const minSpoolFreeBytes = 64 << 20

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir),
		CheckFreeSpace("Spool free space", cfg.Paths.SpoolDir, minSpoolFreeBytes),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckEndpoint(ctx, "Analysis service", cfg.Analysis.BaseURL),
		CheckEndpoint(ctx, "Storage service", cfg.Storage.BaseURL),
	}
	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
