package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"whispertune/internal/config"
)

func TestLoadDefaultConfigUsesEnvTokenAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HF_TOKEN", "hf_test")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "whispertune")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.CacheDir != filepath.Join(tempHome, ".cache", "whispertune") {
		t.Fatalf("unexpected cache dir: %q", cfg.Paths.CacheDir)
	}
	if !filepath.IsAbs(cfg.Paths.OutputDir) || filepath.Base(cfg.Paths.OutputDir) != "LM-S2T-BASE-2" {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Hub.Token != "hf_test" {
		t.Fatalf("expected hub token from env, got %q", cfg.Hub.Token)
	}
	if cfg.Hub.TokenFile != filepath.Join(tempHome, ".cache", "huggingface", "token") {
		t.Fatalf("unexpected token file: %q", cfg.Hub.TokenFile)
	}
	if cfg.Dataset.TrainSplit != "train+validation" || cfg.Dataset.TestSplit != "test" {
		t.Fatalf("unexpected splits: %q %q", cfg.Dataset.TrainSplit, cfg.Dataset.TestSplit)
	}
	if cfg.Training.MaxSteps != 4000 || cfg.Training.LearningRate != 1e-5 {
		t.Fatalf("unexpected training defaults: %+v", cfg.Training)
	}
	if cfg.Preprocess.NumWorkers != 2 {
		t.Fatalf("expected two preprocessing workers, got %d", cfg.Preprocess.NumWorkers)
	}
	if cfg.RepoID() != "LM-S2T-BASE-2" {
		t.Fatalf("expected repo id to default to output dir name, got %q", cfg.RepoID())
	}
}

func TestLoadPrefersSecondaryTokenEnvWhenPrimaryMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HF_TOKEN", "")
	os.Unsetenv("HF_TOKEN")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "hf_secondary")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Hub.Token != "hf_secondary" {
		t.Fatalf("expected secondary env token, got %q", cfg.Hub.Token)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
output_dir = "~/runs/cv-small"

[dataset]
source = "local"
local_dir = "~/cv/en"
train_split = "train"
limit = 50

[training]
max_steps = 10
save_steps = 5
eval_steps = 5

[hub]
repo_id = "someone/cv-small"
tags = ["hf-asr-leaderboard", " ", "hf-asr-leaderboard", "whisper"]

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Dataset.LocalDir != filepath.Join(tempHome, "cv", "en") {
		t.Fatalf("unexpected local dir: %q", cfg.Dataset.LocalDir)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "runs", "cv-small") {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Training.MaxSteps != 10 || cfg.Training.SaveSteps != 5 {
		t.Fatalf("unexpected training overrides: %+v", cfg.Training)
	}
	if cfg.Training.PerDeviceTrainBatchSize != 16 {
		t.Fatalf("expected untouched defaults to survive, got batch size %d", cfg.Training.PerDeviceTrainBatchSize)
	}
	if got := strings.Join(cfg.Hub.Tags, ","); got != "hf-asr-leaderboard,whisper" {
		t.Fatalf("unexpected tags: %q", got)
	}
	if cfg.RepoID() != "someone/cv-small" {
		t.Fatalf("unexpected repo id: %q", cfg.RepoID())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown source", func(c *config.Config) { c.Dataset.Source = "s3" }, "dataset.source"},
		{"local without dir", func(c *config.Config) { c.Dataset.Source = config.DatasetSourceLocal }, "dataset.local_dir"},
		{"empty split part", func(c *config.Config) { c.Dataset.TrainSplit = "train+" }, "dataset.train_split"},
		{"bad language", func(c *config.Config) { c.Model.Language = "not a language" }, "model.language"},
		{"bad task", func(c *config.Config) { c.Model.Task = "summarize" }, "model.task"},
		{"zero mel bins", func(c *config.Config) { c.Features.NumMelBins = 0 }, "features.num_mel_bins"},
		{"hop exceeds window", func(c *config.Config) { c.Features.HopLength = 800 }, "features.hop_length"},
		{"no runtime", func(c *config.Config) { c.Training.RuntimeCommand = "" }, "training.runtime_command"},
		{"bad endpoint", func(c *config.Config) { c.Hub.Endpoint = "huggingface.co" }, "hub.endpoint"},
		{"nested repo", func(c *config.Config) { c.Hub.RepoID = "a/b/c" }, "hub.repo_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleRoundTripsThroughLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded map[string]any
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to be found")
	}
	if cfg.Model.BaseCheckpoint != "openai/whisper-base" {
		t.Fatalf("unexpected base checkpoint: %q", cfg.Model.BaseCheckpoint)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.CacheDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
	if cfg.StatePath() != filepath.Join(base, "work", "whispertune.db") {
		t.Fatalf("unexpected state path: %q", cfg.StatePath())
	}
}
