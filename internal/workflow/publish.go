package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"whispertune/internal/hub"
	"whispertune/internal/logging"
	"whispertune/internal/services"
	"whispertune/internal/store"
	"whispertune/internal/training"
)

// ResolveRun finds a run by id or unique id prefix. An empty ref selects the
// most recent run.
func (w *Workflow) ResolveRun(ctx context.Context, ref string) (*store.Run, error) {
	var (
		run *store.Run
		err error
	)
	if strings.TrimSpace(ref) == "" {
		run, err = w.store.LatestRun(ctx)
	} else {
		run, err = w.store.FindRun(ctx, strings.TrimSpace(ref))
	}
	if err != nil {
		return nil, err
	}
	if run == nil {
		what := "no runs recorded"
		if ref != "" {
			what = fmt.Sprintf("run %q not found", ref)
		}
		return nil, services.Wrap(services.ErrNotFound, "runs", "resolve", what, nil)
	}
	return run, nil
}

// ModelCard builds the card published with run.
func (w *Workflow) ModelCard(ctx context.Context, run *store.Run) (hub.ModelCard, error) {
	evals, err := w.store.ListEvaluations(ctx, run.ID)
	if err != nil {
		return hub.ModelCard{}, err
	}
	card := hub.ModelCard{
		Metadata: hub.CardMetadata{
			DatasetTags:   w.cfg.Dataset.Name,
			Dataset:       w.cfg.Hub.DatasetName,
			DatasetArgs:   w.cfg.Hub.DatasetArgs,
			Language:      w.cfg.Model.Language,
			ModelName:     w.cfg.Hub.ModelName,
			FinetunedFrom: w.cfg.Model.BaseCheckpoint,
			Tasks:         w.cfg.Hub.Tasks,
			Tags:          w.cfg.Hub.Tags,
		},
		WER:             run.BestWER,
		BestCheckpoint:  run.BestCheckpoint,
		Hyperparameters: hyperparameters(training.ArgumentsFromConfig(w.cfg)),
	}
	for _, ev := range evals {
		if run.BestWER != nil && ev.WER == *run.BestWER && ev.Checkpoint == run.BestCheckpoint {
			card.Steps = ev.Step
			break
		}
	}
	return card, nil
}

func hyperparameters(a training.Arguments) []hub.Hyperparameter {
	return []hub.Hyperparameter{
		{Name: "learning_rate", Value: strconv.FormatFloat(a.LearningRate, 'g', -1, 64)},
		{Name: "train_batch_size", Value: strconv.Itoa(a.PerDeviceTrainBatchSize)},
		{Name: "eval_batch_size", Value: strconv.Itoa(a.PerDeviceEvalBatchSize)},
		{Name: "gradient_accumulation_steps", Value: strconv.Itoa(a.GradientAccumulationSteps)},
		{Name: "total_train_batch_size", Value: strconv.Itoa(a.EffectiveTrainBatchSize())},
		{Name: "lr_scheduler_warmup_steps", Value: strconv.Itoa(a.WarmupSteps)},
		{Name: "training_steps", Value: strconv.Itoa(a.MaxSteps)},
		{Name: "mixed_precision_training", Value: strconv.FormatBool(a.FP16)},
	}
}

// Publish pushes a run's output directory to the hub in one commit. client
// must be able to supply a token; the CLI passes an interactive client here.
func (w *Workflow) Publish(ctx context.Context, client *hub.Client, ref string) (hub.PublishResult, error) {
	run, err := w.ResolveRun(ctx, ref)
	if err != nil {
		return hub.PublishResult{}, err
	}
	ctx = services.WithStage(services.WithRunID(ctx, run.ID), "publish")
	logger := logging.WithContext(ctx, w.logger)
	if client == nil {
		client = w.hub
	}

	if run.Status == store.RunFailed || run.Status == store.RunPending {
		return hub.PublishResult{}, services.Wrap(services.ErrValidation, "publish", "check run",
			fmt.Sprintf("run %s is %s", run.ID, run.Status), nil)
	}
	if _, err := w.SaveProcessor(ctx, run.OutputDir); err != nil {
		return hub.PublishResult{}, err
	}
	card, err := w.ModelCard(ctx, run)
	if err != nil {
		return hub.PublishResult{}, err
	}
	repoID := run.RepoID
	if repoID == "" {
		repoID = w.cfg.RepoID()
	}

	logger.Info("publishing run",
		logging.String(logging.FieldEventType, "publish_start"),
		logging.String("repo_id", repoID),
		logging.String("dir", run.OutputDir),
	)
	result, err := client.Publish(ctx, hub.PublishRequest{
		RepoID:  repoID,
		Private: w.cfg.Hub.Private,
		Dir:     run.OutputDir,
		Card:    card,
		Skip:    []string{training.PlanFile},
	})
	if err != nil {
		return hub.PublishResult{}, err
	}
	if err := w.store.AddPublication(ctx, store.Publication{RunID: run.ID, RepoID: repoID, CommitURL: result.CommitURL}); err != nil {
		return result, err
	}
	logger.Info("run published",
		logging.String(logging.FieldEventType, "publish_complete"),
		logging.String("repo_url", result.RepoURL),
		logging.String("commit_url", result.CommitURL),
		logging.Int("files", len(result.Files)),
	)
	return result, nil
}

// Run trains and, when push_to_hub is enabled, publishes the result.
func (w *Workflow) Run(ctx context.Context, client *hub.Client) (TrainResult, *hub.PublishResult, error) {
	trained, err := w.Train(ctx)
	if err != nil {
		return trained, nil, err
	}
	if !w.cfg.Training.PushToHub {
		return trained, nil, nil
	}
	published, err := w.Publish(ctx, client, trained.Run.ID)
	if err != nil {
		w.recordPublishError(services.WithRunID(ctx, trained.Run.ID), trained.Run.ID, err)
		return trained, nil, err
	}
	return trained, &published, nil
}

// recordPublishError keeps a trained run publishable: the status stays as
// training left it and only the error is stored.
func (w *Workflow) recordPublishError(ctx context.Context, runID string, cause error) {
	logger := logging.WithContext(ctx, w.logger)
	kind := services.FailureKind(cause)
	logging.ErrorWithContext(logger, "publish failed", "publish_failed",
		logging.String("failure_kind", kind),
		logging.String(logging.FieldErrorHint, "retry with 'whispertune publish "+runID+"'"),
		logging.Error(cause),
	)
	if err := w.store.RecordRunError(context.WithoutCancel(ctx), runID, cause.Error(), kind); err != nil {
		logger.Error("failed to persist publish error", logging.Error(err))
	}
}
