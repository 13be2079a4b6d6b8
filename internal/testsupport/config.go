package testsupport

import (
	"path/filepath"
	"testing"

	"whispertune/internal/config"
)

// ConfigOption adjusts a config built by NewConfig.
type ConfigOption func(*config.Config)

// NewConfig returns the default config rooted in a fresh temp directory:
// a local dataset under dataset/, a checkpoint under checkpoint/, and a hub
// endpoint that refuses connections so no test reaches the network by
// accident.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	dir := func(name string) string { return filepath.Join(base, name) }

	cfg := config.Default()
	cfg.Paths.WorkDir = dir("work")
	cfg.Paths.CacheDir = dir("cache")
	cfg.Paths.LogDir = dir("logs")
	cfg.Paths.OutputDir = dir("output")
	cfg.Dataset.Source = config.DatasetSourceLocal
	cfg.Dataset.LocalDir = dir("dataset")
	cfg.Model.BaseCheckpoint = dir("checkpoint")
	cfg.Hub.Endpoint = "http://127.0.0.1:1"
	cfg.Hub.Token = ""
	cfg.Hub.TokenFile = dir("hub-token")
	cfg.Hub.Interactive = false
	cfg.Training.CallbackBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// BaseDir returns the temp directory NewConfig rooted cfg in.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

// WithHubToken sets a static hub token.
func WithHubToken(token string) ConfigOption {
	return func(cfg *config.Config) { cfg.Hub.Token = token }
}

// WithHubEndpoint points the config at a fake hub.
func WithHubEndpoint(endpoint string) ConfigOption {
	return func(cfg *config.Config) { cfg.Hub.Endpoint = endpoint }
}

// WithRuntime sets the training runtime command and its arguments.
func WithRuntime(command string, args ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Training.RuntimeCommand = command
		cfg.Training.RuntimeArgs = args
	}
}
