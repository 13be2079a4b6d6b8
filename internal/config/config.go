package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	CacheDir  string `toml:"cache_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
}

// Dataset identifies the audio-transcript corpus used for fine-tuning.
type Dataset struct {
	// Source is "hub" (download from the dataset hub) or "local" (a Common
	// Voice style directory already on disk).
	Source     string `toml:"source"`
	Name       string `toml:"name"`
	Config     string `toml:"config"`
	Revision   string `toml:"revision"`
	TrainSplit string `toml:"train_split"`
	TestSplit  string `toml:"test_split"`
	LocalDir   string `toml:"local_dir"`
	// Limit caps the number of examples loaded per split. Zero loads everything.
	Limit int `toml:"limit"`
}

// Model identifies the pretrained checkpoint and decoding prompt.
type Model struct {
	BaseCheckpoint string `toml:"base_checkpoint"`
	Revision       string `toml:"revision"`
	Language       string `toml:"language"`
	Task           string `toml:"task"`
}

// Features contains log-mel feature extraction settings.
type Features struct {
	SampleRate  int `toml:"sample_rate"`
	NumMelBins  int `toml:"num_mel_bins"`
	NFFT        int `toml:"n_fft"`
	HopLength   int `toml:"hop_length"`
	ChunkLength int `toml:"chunk_length"`
}

// Preprocess contains dataset preparation settings.
type Preprocess struct {
	NumWorkers int `toml:"num_workers"`
}

// Training contains the hyperparameters handed to the external runtime.
type Training struct {
	PerDeviceTrainBatchSize   int      `toml:"per_device_train_batch_size"`
	GradientAccumulationSteps int      `toml:"gradient_accumulation_steps"`
	LearningRate              float64  `toml:"learning_rate"`
	WarmupSteps               int      `toml:"warmup_steps"`
	MaxSteps                  int      `toml:"max_steps"`
	GradientCheckpointing     bool     `toml:"gradient_checkpointing"`
	FP16                      bool     `toml:"fp16"`
	EvaluationStrategy        string   `toml:"evaluation_strategy"`
	PerDeviceEvalBatchSize    int      `toml:"per_device_eval_batch_size"`
	PredictWithGenerate       bool     `toml:"predict_with_generate"`
	GenerationMaxLength       int      `toml:"generation_max_length"`
	SaveSteps                 int      `toml:"save_steps"`
	EvalSteps                 int      `toml:"eval_steps"`
	LoggingSteps              int      `toml:"logging_steps"`
	ReportTo                  []string `toml:"report_to"`
	LoadBestModelAtEnd        bool     `toml:"load_best_model_at_end"`
	MetricForBestModel        string   `toml:"metric_for_best_model"`
	GreaterIsBetter           bool     `toml:"greater_is_better"`
	PushToHub                 bool     `toml:"push_to_hub"`

	// RuntimeCommand is the executable that performs the actual training
	// loop. It receives --plan <path> followed by RuntimeArgs.
	RuntimeCommand string   `toml:"runtime_command"`
	RuntimeArgs    []string `toml:"runtime_args"`
	// FFmpegCommand overrides the ffmpeg used for compressed clips. Empty
	// prefers an ffmpeg next to the runtime, then PATH.
	FFmpegCommand string `toml:"ffmpeg_command"`
	// CallbackBind is the loopback address the collator/metric bridge binds.
	CallbackBind string `toml:"callback_bind"`
}

// Hub contains model hub connection and publication settings.
type Hub struct {
	Endpoint       string `toml:"endpoint"`
	Token          string `toml:"token"`
	TokenFile      string `toml:"token_file"`
	Interactive    bool   `toml:"interactive"`
	RepoID         string `toml:"repo_id"`
	Private        bool   `toml:"private"`
	TimeoutSeconds int    `toml:"timeout_seconds"`

	// Model card metadata pushed with the final checkpoint.
	ModelName   string   `toml:"model_name"`
	DatasetName string   `toml:"dataset_display_name"`
	DatasetArgs string   `toml:"dataset_args"`
	Tasks       string   `toml:"tasks"`
	Tags        []string `toml:"tags"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for whispertune.
//
// Configuration sections by subsystem:
//   - Paths: working, cache, log and output directories
//   - Dataset: corpus name, config, splits and source
//   - Model: base checkpoint, language and task
//   - Features: log-mel extraction parameters
//   - Preprocess: preparation worker pool size
//   - Training: hyperparameters and the external runtime command
//   - Hub: credentials and publication metadata
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Dataset    Dataset    `toml:"dataset"`
	Model      Model      `toml:"model"`
	Features   Features   `toml:"features"`
	Preprocess Preprocess `toml:"preprocess"`
	Training   Training   `toml:"training"`
	Hub        Hub        `toml:"hub"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/whispertune/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first so credentials can be supplied without exporting them.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads ./.env when present. Variables already set in the
// environment win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/whispertune/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("whispertune.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working, cache and log directories. The
// output directory is created by the run that owns it.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the SQLite database holding prepared examples and run history.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.WorkDir, "whispertune.db")
}

// DatasetCacheDir returns where hub dataset files are downloaded and extracted.
func (c *Config) DatasetCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "datasets")
}

// ModelCacheDir returns where base checkpoint files are downloaded.
func (c *Config) ModelCacheDir() string {
	return filepath.Join(c.Paths.CacheDir, "models")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "whispertune")
	}
	return defaultCacheDirFallback
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// RepoID returns the hub repository that receives the trained model. When not
// configured it falls back to the output directory name.
func (c *Config) RepoID() string {
	if id := strings.TrimSpace(c.Hub.RepoID); id != "" {
		return id
	}
	return filepath.Base(c.Paths.OutputDir)
}

// Redacted returns a copy of c with the hub token blanked, for run snapshots
// and display.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Hub.Token != "" {
		cp.Hub.Token = "redacted"
	}
	return cp
}
