// Package main hosts the whispertune CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the transcript preprocessor, dataset
// preparation, the training driver, evaluation reports, hub publication and
// configuration scaffolding. It centralizes configuration resolution, logger
// setup and state store access so subcommands can focus on presentation.
//
// Keep this package lean: add new functionality to the internal packages
// first, then surface it through dedicated commands or flags here.
package main
