// Package logging assembles structured slog loggers and formatting helpers used
// across whispertune.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so workflow code can tag log
// lines with run IDs and stages. The package also provides a no-op logger for
// tests and a progress sampler that keeps per-example preparation logs quiet.
package logging
