package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"whispertune/internal/bridge"
	"whispertune/internal/collator"
	"whispertune/internal/deps"
	"whispertune/internal/logging"
	"whispertune/internal/services"
	"whispertune/internal/store"
	"whispertune/internal/training"
)

const lockFile = ".whispertune.lock"

// TrainResult summarizes a finished training run.
type TrainResult struct {
	Run      *store.Run
	PlanPath string
	Steps    int
	Best     training.Candidate
	HasBest  bool
}

// Train prepares data if needed, launches the training runtime and records
// its evaluations. The run is left in the evaluated state on success.
func (w *Workflow) Train(ctx context.Context) (TrainResult, error) {
	if w.externalRuntime {
		tools := deps.Check(deps.Tools(w.cfg.Training.RuntimeCommand, w.cfg.Training.FFmpegCommand))
		if missing := deps.MissingRequired(tools); len(missing) > 0 {
			return TrainResult{}, services.Wrap(services.ErrConfiguration, "train", "check runtime",
				strings.Join(missing, ", ")+" not available", nil)
		}
	}
	outputDir := w.cfg.Paths.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return TrainResult{}, fmt.Errorf("create output dir: %w", err)
	}
	lock := flock.New(filepath.Join(outputDir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return TrainResult{}, fmt.Errorf("lock output dir: %w", err)
	}
	if !ok {
		return TrainResult{}, services.Wrap(services.ErrValidation, "train", "lock output dir",
			fmt.Sprintf("%s is used by another run", outputDir), nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	snapshot, err := w.configSnapshot()
	if err != nil {
		return TrainResult{}, err
	}
	run, err := w.store.CreateRun(ctx, uuid.NewString(), snapshot, outputDir, w.cfg.RepoID())
	if err != nil {
		return TrainResult{}, err
	}
	ctx = services.WithRunID(ctx, run.ID)
	logger := logging.WithContext(ctx, w.logger)
	logger.Info("run created",
		logging.String(logging.FieldEventType, "run_created"),
		logging.String("output_dir", outputDir),
		logging.String("base_checkpoint", w.cfg.Model.BaseCheckpoint),
	)

	result, err := w.train(ctx, run, logger)
	if err != nil {
		w.failRun(ctx, run.ID, err)
		return TrainResult{Run: run}, err
	}
	return result, nil
}

func (w *Workflow) train(ctx context.Context, run *store.Run, logger *slog.Logger) (TrainResult, error) {
	if err := w.store.SetRunStatus(ctx, run.ID, store.RunPreparing); err != nil {
		return TrainResult{}, err
	}
	if _, err := w.Prepare(ctx, false); err != nil {
		return TrainResult{}, err
	}
	trainInfo, evalInfo, err := w.PreparedSizes(ctx)
	if err != nil {
		return TrainResult{}, err
	}

	tok, err := w.Tokenizer(ctx)
	if err != nil {
		return TrainResult{}, err
	}
	coll := collator.New(tok.PadID(), tok.DecoderStartID())

	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	server, err := bridge.New(w.cfg.Training.CallbackBind, uuid.NewString(), w.store, coll, tok, bridge.WithLogger(w.logger))
	if err != nil {
		return TrainResult{}, err
	}
	if err := server.Start(bridgeCtx); err != nil {
		return TrainResult{}, services.Wrap(services.ErrConfiguration, "train", "start bridge", w.cfg.Training.CallbackBind, err)
	}
	defer func() {
		_ = server.Shutdown(context.WithoutCancel(ctx))
	}()

	args := training.ArgumentsFromConfig(w.cfg)
	featureCfg := w.FeatureConfig()
	plan := training.Plan{
		Version:        training.PlanVersion,
		RunID:          run.ID,
		BaseCheckpoint: w.cfg.Model.BaseCheckpoint,
		Revision:       w.cfg.Model.Revision,
		Language:       w.cfg.Model.Language,
		Task:           w.cfg.Model.Task,
		Arguments:      args,
		Overrides:      training.DefaultOverrides(),
		Datasets: training.DatasetSizes{
			Train:     trainInfo.Count,
			Eval:      evalInfo.Count,
			TrainName: trainInfo.Split,
			EvalName:  evalInfo.Split,
		},
		Callback: training.Callback{URL: server.URL(), Token: server.Token()},
		Collator: training.CollatorConstants{
			PadTokenID:          coll.PadID(),
			DecoderStartTokenID: coll.DecoderStartID(),
			IgnoreIndex:         collator.IgnoreIndex,
			NumMelBins:          featureCfg.NumMelBins,
			MaxFrames:           featureCfg.MaxFrames(),
			PrefixTokenIDs:      tok.PrefixIDs(),
		},
	}
	planPath, err := plan.Write()
	if err != nil {
		return TrainResult{}, services.Wrap(services.ErrConfiguration, "train", "write plan", "", err)
	}

	if err := w.store.SetRunStatus(ctx, run.ID, store.RunTraining); err != nil {
		return TrainResult{}, err
	}
	logger.Info("training started",
		logging.String(logging.FieldEventType, "training_start"),
		logging.String("plan", planPath),
		logging.Int("train_examples", trainInfo.Count),
		logging.Int("eval_examples", evalInfo.Count),
		logging.Int("max_steps", args.MaxSteps),
		logging.Int("effective_batch_size", args.EffectiveTrainBatchSize()),
	)

	var selector training.Selector
	handle := func(ctx context.Context, ev training.Event) error {
		return w.handleEvent(ctx, logger, run.ID, &selector, ev)
	}
	runResult, err := w.runner.Run(ctx, planPath, handle)
	if err != nil {
		return TrainResult{}, err
	}

	result := TrainResult{PlanPath: planPath, Steps: runResult.Steps}
	if best, ok := selector.Best(); ok {
		result.Best, result.HasBest = best, true
		if err := w.store.SetBest(ctx, run.ID, best.Checkpoint, best.WER); err != nil {
			return TrainResult{}, err
		}
	} else {
		logging.WarnWithContext(logger, "runtime reported no evaluations", "no_evaluations",
			logging.String(logging.FieldErrorHint, "check evaluation_strategy and eval_steps"),
			logging.String(logging.FieldImpact, "the published model card carries no WER"),
		)
	}
	if _, err := w.SaveProcessor(ctx, w.cfg.Paths.OutputDir); err != nil {
		return TrainResult{}, err
	}
	if err := w.store.SetRunStatus(ctx, run.ID, store.RunEvaluated); err != nil {
		return TrainResult{}, err
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "training_complete"),
		logging.Int("steps", runResult.Steps),
		logging.String("final_checkpoint", runResult.FinalCheckpoint),
	}
	if result.HasBest {
		attrs = append(attrs,
			logging.String("best_checkpoint", result.Best.Checkpoint),
			logging.Float64("best_wer", result.Best.WER),
		)
	}
	logger.Info("training complete", logging.Args(attrs...)...)

	result.Run, err = w.store.GetRun(ctx, run.ID)
	return result, err
}

func (w *Workflow) handleEvent(ctx context.Context, logger *slog.Logger, runID string, selector *training.Selector, ev training.Event) error {
	switch ev.Type {
	case training.EventLog:
		attrs := logging.StepAttrs(ev.Step, "runtime_log")
		if ev.Loss != nil {
			attrs = append(attrs, logging.Float64("loss", *ev.Loss))
		}
		if ev.LearningRate != nil {
			attrs = append(attrs, logging.Float64("learning_rate", *ev.LearningRate))
		}
		logger.Info("training progress", logging.Args(attrs...)...)
	case training.EventEval:
		if ev.WER == nil {
			logging.WarnWithContext(logger, "evaluation without wer ignored", "runtime_eval_invalid",
				logging.Int(logging.FieldStep, ev.Step),
				logging.String(logging.FieldImpact, "checkpoint not considered for selection"),
			)
			return nil
		}
		if err := w.store.AddEvaluation(ctx, store.Evaluation{RunID: runID, Step: ev.Step, WER: *ev.WER, Checkpoint: ev.Checkpoint}); err != nil {
			return err
		}
		improved := selector.Observe(training.Candidate{Step: ev.Step, WER: *ev.WER, Checkpoint: ev.Checkpoint})
		attrs := logging.StepAttrs(ev.Step, "runtime_eval")
		attrs = append(attrs,
			logging.Float64("wer", *ev.WER),
			logging.String("checkpoint", ev.Checkpoint),
			logging.Bool("best", improved),
		)
		logger.Info("evaluation", logging.Args(attrs...)...)
	case training.EventCheckpoint:
		attrs := logging.StepAttrs(ev.Step, "runtime_checkpoint")
		attrs = append(attrs, logging.String("checkpoint", ev.Checkpoint))
		logger.Info("checkpoint saved", logging.Args(attrs...)...)
	case training.EventDone:
		logger.Debug("runtime done", logging.Args(logging.StepAttrs(ev.Step, "runtime_done")...)...)
	}
	return nil
}

// configSnapshot serializes the configuration for the run record with the
// hub token removed.
func (w *Workflow) configSnapshot() (string, error) {
	data, err := json.Marshal(w.cfg.Redacted())
	if err != nil {
		return "", fmt.Errorf("snapshot config: %w", err)
	}
	return string(data), nil
}

func (w *Workflow) failRun(ctx context.Context, runID string, cause error) {
	logger := logging.WithContext(ctx, w.logger)
	kind := services.FailureKind(cause)
	if errors.Is(cause, context.Canceled) {
		kind = "canceled"
	}
	logging.ErrorWithContext(logger, "run failed", "run_failed",
		logging.String("failure_kind", kind),
		logging.String(logging.FieldErrorHint, services.Hint(cause)),
		logging.Error(cause),
	)
	if err := w.store.FailRun(context.WithoutCancel(ctx), runID, cause.Error(), kind); err != nil {
		logger.Error("failed to persist run failure", logging.Error(err))
	}
}
