package preflight

import (
	"context"

	"whispertune/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// The hub check only runs when a token is configured, since preparation and
// training work without one.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))

	if cfg.Dataset.Source == config.DatasetSourceHub {
		results = append(results, CheckDiskSpace("Cache free space", cfg.Paths.CacheDir, minCacheFreeBytes))
	} else {
		results = append(results, CheckDirectoryAccess("Dataset directory", cfg.Dataset.LocalDir))
	}

	if cfg.Hub.Token != "" {
		results = append(results, CheckHub(ctx, cfg.Hub.Endpoint, cfg.Hub.Token))
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
