package config

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateFeatures(); err != nil {
		return err
	}
	if err := c.validateTraining(); err != nil {
		return err
	}
	if err := c.validateHub(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDataset() error {
	switch c.Dataset.Source {
	case DatasetSourceHub:
		if c.Dataset.Name == "" {
			return errors.New("dataset.name must be set when dataset.source is \"hub\"")
		}
		if c.Dataset.Config == "" {
			return errors.New("dataset.config must be set when dataset.source is \"hub\"")
		}
	case DatasetSourceLocal:
		if c.Dataset.LocalDir == "" {
			return errors.New("dataset.local_dir must be set when dataset.source is \"local\"")
		}
	default:
		return fmt.Errorf("dataset.source must be \"hub\" or \"local\", got %q", c.Dataset.Source)
	}
	if err := validateSplitExpression("dataset.train_split", c.Dataset.TrainSplit); err != nil {
		return err
	}
	if err := validateSplitExpression("dataset.test_split", c.Dataset.TestSplit); err != nil {
		return err
	}
	return nil
}

func validateSplitExpression(field, expr string) error {
	if expr == "" {
		return fmt.Errorf("%s must be set", field)
	}
	for _, part := range strings.Split(expr, "+") {
		if part == "" {
			return fmt.Errorf("%s has an empty split in %q", field, expr)
		}
	}
	return nil
}

func (c *Config) validateModel() error {
	if c.Model.BaseCheckpoint == "" {
		return errors.New("model.base_checkpoint must be set")
	}
	if c.Model.Language == "" {
		return errors.New("model.language must be set")
	}
	if _, err := language.Parse(c.Model.Language); err != nil {
		return fmt.Errorf("model.language %q is not a valid language tag: %w", c.Model.Language, err)
	}
	switch c.Model.Task {
	case "transcribe", "translate":
	default:
		return fmt.Errorf("model.task must be \"transcribe\" or \"translate\", got %q", c.Model.Task)
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if err := ensurePositiveMap(map[string]int{
		"features.sample_rate":   c.Features.SampleRate,
		"features.num_mel_bins":  c.Features.NumMelBins,
		"features.n_fft":         c.Features.NFFT,
		"features.hop_length":    c.Features.HopLength,
		"features.chunk_length":  c.Features.ChunkLength,
		"preprocess.num_workers": c.Preprocess.NumWorkers,
	}); err != nil {
		return err
	}
	if c.Features.HopLength > c.Features.NFFT {
		return errors.New("features.hop_length must not exceed features.n_fft")
	}
	return nil
}

// validateTraining checks only what the config layer owns; the full
// hyperparameter rules live in training.Arguments.Validate.
func (c *Config) validateTraining() error {
	if c.Training.RuntimeCommand == "" {
		return errors.New("training.runtime_command must be set")
	}
	if c.Training.LearningRate <= 0 {
		return errors.New("training.learning_rate must be positive")
	}
	if c.Training.WarmupSteps < 0 {
		return errors.New("training.warmup_steps must not be negative")
	}
	return nil
}

func (c *Config) validateHub() error {
	if !strings.HasPrefix(c.Hub.Endpoint, "http://") && !strings.HasPrefix(c.Hub.Endpoint, "https://") {
		return fmt.Errorf("hub.endpoint must be an http(s) URL, got %q", c.Hub.Endpoint)
	}
	if c.Hub.RepoID != "" && strings.Count(c.Hub.RepoID, "/") > 1 {
		return fmt.Errorf("hub.repo_id must be <name> or <namespace>/<name>, got %q", c.Hub.RepoID)
	}
	if strings.TrimSpace(c.Hub.ModelName) == "" {
		return errors.New("hub.model_name must be set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
