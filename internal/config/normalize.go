package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDataset()
	c.normalizeModel()
	c.normalizeTraining()
	if err := c.normalizeHub(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Dataset.LocalDir, err = expandPath(c.Dataset.LocalDir); err != nil {
		return fmt.Errorf("dataset.local_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDataset() {
	c.Dataset.Source = strings.ToLower(strings.TrimSpace(c.Dataset.Source))
	if c.Dataset.Source == "" {
		if c.Dataset.LocalDir != "" {
			c.Dataset.Source = DatasetSourceLocal
		} else {
			c.Dataset.Source = DatasetSourceHub
		}
	}
	c.Dataset.Name = strings.TrimSpace(c.Dataset.Name)
	c.Dataset.Config = strings.TrimSpace(c.Dataset.Config)
	c.Dataset.Revision = strings.TrimSpace(c.Dataset.Revision)
	if c.Dataset.Revision == "" {
		c.Dataset.Revision = defaultDatasetRevision
	}
	c.Dataset.TrainSplit = strings.ReplaceAll(strings.TrimSpace(c.Dataset.TrainSplit), " ", "")
	c.Dataset.TestSplit = strings.ReplaceAll(strings.TrimSpace(c.Dataset.TestSplit), " ", "")
	if c.Dataset.Limit < 0 {
		c.Dataset.Limit = 0
	}
}

func (c *Config) normalizeModel() {
	c.Model.BaseCheckpoint = strings.TrimSpace(c.Model.BaseCheckpoint)
	c.Model.Revision = strings.TrimSpace(c.Model.Revision)
	if c.Model.Revision == "" {
		c.Model.Revision = defaultModelRevision
	}
	c.Model.Language = strings.ToLower(strings.TrimSpace(c.Model.Language))
	c.Model.Task = strings.ToLower(strings.TrimSpace(c.Model.Task))
	if c.Model.Task == "" {
		c.Model.Task = defaultModelTask
	}
}

func (c *Config) normalizeTraining() {
	c.Training.EvaluationStrategy = strings.ToLower(strings.TrimSpace(c.Training.EvaluationStrategy))
	c.Training.MetricForBestModel = strings.ToLower(strings.TrimSpace(c.Training.MetricForBestModel))
	c.Training.RuntimeCommand = strings.TrimSpace(c.Training.RuntimeCommand)
	c.Training.CallbackBind = strings.TrimSpace(c.Training.CallbackBind)
	if c.Training.CallbackBind == "" {
		c.Training.CallbackBind = defaultCallbackBind
	}
	if c.Preprocess.NumWorkers <= 0 {
		c.Preprocess.NumWorkers = defaultNumWorkers
	}
}

func (c *Config) normalizeHub() error {
	c.Hub.Endpoint = strings.TrimRight(strings.TrimSpace(c.Hub.Endpoint), "/")
	if c.Hub.Endpoint == "" {
		c.Hub.Endpoint = defaultHubEndpoint
	}
	c.Hub.Token = strings.TrimSpace(c.Hub.Token)
	if c.Hub.Token == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Hub.Token = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			c.Hub.Token = strings.TrimSpace(value)
		}
	}
	var err error
	if c.Hub.TokenFile, err = expandPath(c.Hub.TokenFile); err != nil {
		return fmt.Errorf("hub.token_file: %w", err)
	}
	c.Hub.RepoID = strings.Trim(strings.TrimSpace(c.Hub.RepoID), "/")
	if c.Hub.TimeoutSeconds <= 0 {
		c.Hub.TimeoutSeconds = defaultHubTimeoutSeconds
	}
	tags := make([]string, 0, len(c.Hub.Tags))
	seen := make(map[string]struct{}, len(c.Hub.Tags))
	for _, tag := range c.Hub.Tags {
		normalized := strings.TrimSpace(tag)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		tags = append(tags, normalized)
	}
	c.Hub.Tags = tags
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
