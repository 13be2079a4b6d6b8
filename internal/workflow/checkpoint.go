package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"whispertune/internal/features"
	"whispertune/internal/fileutil"
	"whispertune/internal/hub"
	"whispertune/internal/logging"
	"whispertune/internal/services"
	"whispertune/internal/tokenizer"
)

var requiredCheckpointFiles = []string{tokenizer.VocabFile, tokenizer.MergesFile}

// ResolveCheckpoint returns a local directory holding the base checkpoint's
// tokenizer files. A configured path that exists is used as is; otherwise
// the name is treated as a hub model id and the files are downloaded into
// the model cache. Optional files missing on the hub are skipped.
func (w *Workflow) ResolveCheckpoint(ctx context.Context) (string, error) {
	name := strings.TrimSpace(w.cfg.Model.BaseCheckpoint)
	if name == "" {
		return "", services.Wrap(services.ErrConfiguration, "checkpoint", "resolve", "model.base_checkpoint is empty", nil)
	}
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		return name, checkRequired(name)
	}

	revision := w.cfg.Model.Revision
	if revision == "" {
		revision = "main"
	}
	dir := filepath.Join(w.cfg.ModelCacheDir(), filepath.FromSlash(name), revision)
	for _, file := range tokenizer.Files {
		dest := filepath.Join(dir, file)
		err := w.hub.DownloadIfMissing(ctx, hub.RepoModel, name, revision, file, dest, w.downloadProgress)
		if err == nil {
			continue
		}
		if errors.Is(err, services.ErrNotFound) && !slices.Contains(requiredCheckpointFiles, file) {
			w.logger.Debug("optional checkpoint file not on hub", logging.String("file", file))
			continue
		}
		return "", err
	}
	return dir, checkRequired(dir)
}

func checkRequired(dir string) error {
	for _, file := range requiredCheckpointFiles {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			return services.Wrap(services.ErrNotFound, "checkpoint", "resolve", fmt.Sprintf("%s has no %s", dir, file), err)
		}
	}
	return nil
}

// Tokenizer loads the base checkpoint's tokenizer with the configured
// language and task prefix.
func (w *Workflow) Tokenizer(ctx context.Context) (*tokenizer.Tokenizer, error) {
	dir, err := w.ResolveCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "checkpoint", "load tokenizer", dir, err)
	}
	if err := tok.SetPrefix(w.cfg.Model.Language, w.cfg.Model.Task); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "checkpoint", "set prefix", "", err)
	}
	return tok, nil
}

// FeatureConfig returns the extractor settings from the configuration.
func (w *Workflow) FeatureConfig() features.Config {
	f := w.cfg.Features
	return features.Config{
		SampleRate:  f.SampleRate,
		NumMelBins:  f.NumMelBins,
		NFFT:        f.NFFT,
		HopLength:   f.HopLength,
		ChunkLength: f.ChunkLength,
		PadToChunk:  true,
	}
}

// SaveProcessor writes preprocessor_config.json and copies the base
// checkpoint's tokenizer files into dir so the published model can be
// loaded on its own.
func (w *Workflow) SaveProcessor(ctx context.Context, dir string) ([]string, error) {
	src, err := w.ResolveCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var written []string
	processorPath := filepath.Join(dir, features.ProcessorConfigFile)
	if err := fileutil.WriteJSON(processorPath, features.ProcessorConfigFor(w.FeatureConfig())); err != nil {
		return nil, fmt.Errorf("save processor config: %w", err)
	}
	written = append(written, features.ProcessorConfigFile)

	for _, file := range tokenizer.Files {
		from := filepath.Join(src, file)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := fileutil.CopyFile(from, filepath.Join(dir, file)); err != nil {
			return nil, fmt.Errorf("copy %s: %w", file, err)
		}
		written = append(written, file)
	}
	w.logger.Info("processor saved",
		logging.String(logging.FieldEventType, "processor_saved"),
		logging.String("dir", dir),
		logging.Int("files", len(written)),
	)
	return written, nil
}
