package workflow

import (
	"context"

	"whispertune/internal/store"
)

// RunReport is a run with its evaluation and publication history.
type RunReport struct {
	Run          *store.Run
	Evaluations  []store.Evaluation
	Publications []store.Publication
}

// Report loads the history of the run ref resolves to.
func (w *Workflow) Report(ctx context.Context, ref string) (RunReport, error) {
	run, err := w.ResolveRun(ctx, ref)
	if err != nil {
		return RunReport{}, err
	}
	evals, err := w.store.ListEvaluations(ctx, run.ID)
	if err != nil {
		return RunReport{}, err
	}
	pubs, err := w.store.ListPublications(ctx, run.ID)
	if err != nil {
		return RunReport{}, err
	}
	return RunReport{Run: run, Evaluations: evals, Publications: pubs}, nil
}
