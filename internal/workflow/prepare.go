package workflow

import (
	"context"
	"fmt"
	"time"

	"whispertune/internal/audio"
	"whispertune/internal/config"
	"whispertune/internal/dataset"
	"whispertune/internal/deps"
	"whispertune/internal/features"
	"whispertune/internal/logging"
	"whispertune/internal/prepare"
	"whispertune/internal/services"
	"whispertune/internal/store"
)

// SplitReport describes one prepared split.
type SplitReport struct {
	Split    string
	Examples int
	Reused   bool
	Duration time.Duration
}

// Source returns the configured dataset source.
func (w *Workflow) Source() (dataset.Source, error) {
	switch w.cfg.Dataset.Source {
	case config.DatasetSourceLocal:
		return dataset.NewLocalSource(w.cfg.Dataset.LocalDir), nil
	case config.DatasetSourceHub:
		return &dataset.HubSource{
			Fetcher:  w.hub,
			Repo:     w.cfg.Dataset.Name,
			Config:   w.cfg.Dataset.Config,
			Revision: w.cfg.Dataset.Revision,
			CacheDir: w.cfg.DatasetCacheDir(),
			Progress: w.downloadProgress,
			Logger:   w.logger,
		}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "dataset", "source", fmt.Sprintf("unknown dataset source %q", w.cfg.Dataset.Source), nil)
	}
}

// sourceKey identifies everything a prepared split depends on. A stored
// split with a different key is stale.
func (w *Workflow) sourceKey(src dataset.Source, split string) string {
	f := w.FeatureConfig()
	return fmt.Sprintf("%s|%s|%s|%s|limit=%d|ckpt=%s@%s|lang=%s|task=%s|mel=%d/%d/%d/%d/%d",
		src.Name(), w.cfg.Dataset.Config, w.cfg.Dataset.Revision, split, w.cfg.Dataset.Limit,
		w.cfg.Model.BaseCheckpoint, w.cfg.Model.Revision, w.cfg.Model.Language, w.cfg.Model.Task,
		f.SampleRate, f.NumMelBins, f.NFFT, f.HopLength, f.ChunkLength,
	)
}

// Prepare prepares the training and evaluation splits. Splits already in
// the store with a matching source key are reused unless force is set.
func (w *Workflow) Prepare(ctx context.Context, force bool) ([]SplitReport, error) {
	ctx = services.WithStage(ctx, "prepare")
	src, err := w.Source()
	if err != nil {
		return nil, err
	}

	var (
		preparer *prepare.Preparer
		reports  []SplitReport
	)
	for _, split := range []string{w.cfg.Dataset.TrainSplit, w.cfg.Dataset.TestSplit} {
		key := w.sourceKey(src, split)
		if !force {
			if info, err := w.store.Split(ctx, split); err == nil && info.SourceKey == key {
				logging.WithContext(ctx, w.logger).Info("prepared split reused",
					logging.String(logging.FieldEventType, "split_reused"),
					logging.String(logging.FieldSplit, split),
					logging.Int("examples", info.Count),
				)
				reports = append(reports, SplitReport{Split: split, Examples: info.Count, Reused: true})
				continue
			}
		}
		if preparer == nil {
			if preparer, err = w.newPreparer(ctx); err != nil {
				return nil, err
			}
		}
		report, err := w.prepareSplit(ctx, src, preparer, split, key)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (w *Workflow) newPreparer(ctx context.Context) (*prepare.Preparer, error) {
	tok, err := w.Tokenizer(ctx)
	if err != nil {
		return nil, err
	}
	extractor, err := features.NewExtractor(w.FeatureConfig())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "prepare", "feature extractor", "", err)
	}
	loader := w.loader
	if loader == nil {
		loader = audio.NewLoader(w.cfg.Features.SampleRate,
			audio.WithFFmpeg(deps.FFmpeg(w.cfg.Training.FFmpegCommand, w.cfg.Training.RuntimeCommand)),
			audio.WithTempDir(w.cfg.Paths.WorkDir),
		)
	}
	return prepare.New(loader, extractor, tok,
		prepare.WithWorkers(w.cfg.Preprocess.NumWorkers),
		prepare.WithLogger(w.logger),
	), nil
}

func (w *Workflow) prepareSplit(ctx context.Context, src dataset.Source, preparer *prepare.Preparer, split, key string) (SplitReport, error) {
	ctx = services.WithSplit(ctx, split)
	logger := logging.WithContext(ctx, w.logger)
	start := time.Now()

	examples, err := dataset.Load(ctx, src, split, w.cfg.Dataset.Limit)
	if err != nil {
		return SplitReport{}, err
	}
	logger.Info("preparing split",
		logging.String(logging.FieldEventType, "split_prepare_start"),
		logging.Int("examples", len(examples)),
		logging.Int("workers", max(w.cfg.Preprocess.NumWorkers, 1)),
	)

	run := preparer
	if w.prepareProgress != nil {
		run = preparer.ReportingTo(func(done, total int) {
			w.prepareProgress(split, done, total)
		})
	}
	writer, err := w.store.BeginSplit(ctx, split, key)
	if err != nil {
		return SplitReport{}, fmt.Errorf("store split %s: %w", split, err)
	}
	defer writer.Rollback()
	err = run.Run(ctx, split, examples, func(p prepare.Prepared) error {
		return writer.Write(ctx, p.Stored())
	})
	if err != nil {
		return SplitReport{}, fmt.Errorf("prepare split %s: %w", split, err)
	}
	count := writer.Count()
	if err := writer.Commit(ctx); err != nil {
		return SplitReport{}, fmt.Errorf("store split %s: %w", split, err)
	}

	report := SplitReport{Split: split, Examples: count, Duration: time.Since(start)}
	logger.Info("split prepared",
		logging.String(logging.FieldEventType, "split_prepared"),
		logging.Int("examples", report.Examples),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

// PreparedSizes returns the stored example counts of the training and
// evaluation splits.
func (w *Workflow) PreparedSizes(ctx context.Context) (train, eval store.SplitInfo, err error) {
	if train, err = w.store.Split(ctx, w.cfg.Dataset.TrainSplit); err != nil {
		return train, eval, err
	}
	eval, err = w.store.Split(ctx, w.cfg.Dataset.TestSplit)
	return train, eval, err
}
