package training

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"whispertune/internal/config"
)

// Evaluation strategies accepted by the runtime.
const (
	StrategyNo    = "no"
	StrategySteps = "steps"
	StrategyEpoch = "epoch"
)

var knownStrategies = []string{StrategyNo, StrategySteps, StrategyEpoch}

var knownReporters = []string{"tensorboard", "none", "all", "wandb", "mlflow", "comet_ml", "clearml", "dvclive"}

// Arguments are the sequence-to-sequence training arguments. JSON names
// follow the runtime's argument names.
type Arguments struct {
	OutputDir                 string   `json:"output_dir"`
	PerDeviceTrainBatchSize   int      `json:"per_device_train_batch_size"`
	GradientAccumulationSteps int      `json:"gradient_accumulation_steps"`
	LearningRate              float64  `json:"learning_rate"`
	WarmupSteps               int      `json:"warmup_steps"`
	MaxSteps                  int      `json:"max_steps"`
	GradientCheckpointing     bool     `json:"gradient_checkpointing"`
	FP16                      bool     `json:"fp16"`
	EvaluationStrategy        string   `json:"evaluation_strategy"`
	PerDeviceEvalBatchSize    int      `json:"per_device_eval_batch_size"`
	PredictWithGenerate       bool     `json:"predict_with_generate"`
	GenerationMaxLength       int      `json:"generation_max_length"`
	SaveSteps                 int      `json:"save_steps"`
	EvalSteps                 int      `json:"eval_steps"`
	LoggingSteps              int      `json:"logging_steps"`
	ReportTo                  []string `json:"report_to"`
	LoadBestModelAtEnd        bool     `json:"load_best_model_at_end"`
	MetricForBestModel        string   `json:"metric_for_best_model"`
	GreaterIsBetter           bool     `json:"greater_is_better"`
	PushToHub                 bool     `json:"push_to_hub"`
}

// ArgumentsFromConfig copies the training section into Arguments.
func ArgumentsFromConfig(cfg *config.Config) Arguments {
	t := cfg.Training
	return Arguments{
		OutputDir:                 cfg.Paths.OutputDir,
		PerDeviceTrainBatchSize:   t.PerDeviceTrainBatchSize,
		GradientAccumulationSteps: t.GradientAccumulationSteps,
		LearningRate:              t.LearningRate,
		WarmupSteps:               t.WarmupSteps,
		MaxSteps:                  t.MaxSteps,
		GradientCheckpointing:     t.GradientCheckpointing,
		FP16:                      t.FP16,
		EvaluationStrategy:        t.EvaluationStrategy,
		PerDeviceEvalBatchSize:    t.PerDeviceEvalBatchSize,
		PredictWithGenerate:       t.PredictWithGenerate,
		GenerationMaxLength:       t.GenerationMaxLength,
		SaveSteps:                 t.SaveSteps,
		EvalSteps:                 t.EvalSteps,
		LoggingSteps:              t.LoggingSteps,
		ReportTo:                  slices.Clone(t.ReportTo),
		LoadBestModelAtEnd:        t.LoadBestModelAtEnd,
		MetricForBestModel:        t.MetricForBestModel,
		GreaterIsBetter:           t.GreaterIsBetter,
		PushToHub:                 t.PushToHub,
	}
}

// DefaultArguments returns the stock Whisper-base fine-tuning arguments.
func DefaultArguments() Arguments {
	cfg := config.Default()
	return ArgumentsFromConfig(&cfg)
}

// Validate rejects argument sets the runtime would refuse or silently
// misinterpret.
func (a Arguments) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(a.OutputDir) == "" {
		add("output_dir is required")
	}
	positive := []struct {
		name  string
		value int
	}{
		{"per_device_train_batch_size", a.PerDeviceTrainBatchSize},
		{"gradient_accumulation_steps", a.GradientAccumulationSteps},
		{"max_steps", a.MaxSteps},
		{"per_device_eval_batch_size", a.PerDeviceEvalBatchSize},
		{"generation_max_length", a.GenerationMaxLength},
		{"save_steps", a.SaveSteps},
		{"eval_steps", a.EvalSteps},
		{"logging_steps", a.LoggingSteps},
	}
	for _, p := range positive {
		if p.value <= 0 {
			add("%s must be positive", p.name)
		}
	}
	if a.LearningRate <= 0 {
		add("learning_rate must be positive")
	}
	if a.WarmupSteps < 0 {
		add("warmup_steps must not be negative")
	}
	if !slices.Contains(knownStrategies, a.EvaluationStrategy) {
		add("evaluation_strategy %q is not one of %s", a.EvaluationStrategy, strings.Join(knownStrategies, ", "))
	}
	for _, r := range a.ReportTo {
		if !slices.Contains(knownReporters, r) {
			add("report_to %q is not a known integration", r)
		}
	}
	if a.LoadBestModelAtEnd {
		if a.EvaluationStrategy == StrategyNo {
			add("load_best_model_at_end requires an evaluation strategy")
		}
		if a.SaveSteps > 0 && a.EvalSteps > 0 && a.EvaluationStrategy == StrategySteps && a.SaveSteps%a.EvalSteps != 0 {
			add("load_best_model_at_end requires save_steps (%d) to be a multiple of eval_steps (%d)", a.SaveSteps, a.EvalSteps)
		}
		if strings.TrimSpace(a.MetricForBestModel) == "" {
			add("metric_for_best_model is required with load_best_model_at_end")
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid training arguments: " + strings.Join(problems, "; "))
	}
	return nil
}

// EffectiveTrainBatchSize is the number of examples per optimizer step.
func (a Arguments) EffectiveTrainBatchSize() int {
	return a.PerDeviceTrainBatchSize * a.GradientAccumulationSteps
}
