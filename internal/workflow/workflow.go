package workflow

import (
	"log/slog"

	"whispertune/internal/config"
	"whispertune/internal/hub"
	"whispertune/internal/logging"
	"whispertune/internal/prepare"
	"whispertune/internal/store"
	"whispertune/internal/training"
)

// PrepareProgress reports preparation progress for one split.
type PrepareProgress func(split string, done, total int)

// Workflow coordinates the run steps over one configuration and store.
type Workflow struct {
	cfg              *config.Config
	store            *store.Store
	hub              *hub.Client
	logger           *slog.Logger
	runner           training.Runner
	externalRuntime  bool
	loader           prepare.AudioLoader
	downloadProgress hub.Progress
	prepareProgress  PrepareProgress
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logging.NewComponentLogger(logger, "workflow")
	}
}

// WithHubClient replaces the client built from the configuration.
func WithHubClient(client *hub.Client) Option {
	return func(w *Workflow) {
		if client != nil {
			w.hub = client
		}
	}
}

// WithRunner replaces the external training runtime.
func WithRunner(runner training.Runner) Option {
	return func(w *Workflow) {
		w.runner = runner
	}
}

// WithAudioLoader replaces the ffmpeg-backed clip loader.
func WithAudioLoader(loader prepare.AudioLoader) Option {
	return func(w *Workflow) {
		w.loader = loader
	}
}

// WithDownloadProgress receives byte progress of hub downloads.
func WithDownloadProgress(fn hub.Progress) Option {
	return func(w *Workflow) {
		w.downloadProgress = fn
	}
}

// WithPrepareProgress receives per-split preparation progress.
func WithPrepareProgress(fn PrepareProgress) Option {
	return func(w *Workflow) {
		w.prepareProgress = fn
	}
}

// New constructs a Workflow. The hub client defaults to a non-interactive
// client built from cfg.
func New(cfg *config.Config, st *store.Store, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:    cfg,
		store:  st,
		logger: logging.NewComponentLogger(nil, "workflow"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.hub == nil {
		w.hub = hub.NewClientFromConfig(cfg, false, w.logger)
	}
	if w.runner == nil {
		w.externalRuntime = true
		w.runner = training.NewExternalRunner(cfg.Training.RuntimeCommand,
			training.WithArgs(cfg.Training.RuntimeArgs...),
			training.WithRunnerLogger(w.logger),
		)
	}
	return w
}

// Config returns the configuration the workflow runs with.
func (w *Workflow) Config() *config.Config {
	return w.cfg
}
