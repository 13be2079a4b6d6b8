// Package services defines shared error markers and context helpers used by
// the workflow stages and external integrations.
//
// Context helpers stamp run IDs, stage names and correlation identifiers for
// logging. Wrap tags failures with a marker so the CLI and the run store can
// classify them (authentication, validation, external tool, ...).
package services
