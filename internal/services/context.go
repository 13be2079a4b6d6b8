package services

import "context"

type (
	runIDKey struct{}
	stageKey struct{}
	splitKey struct{}
)

// WithRunID tags ctx with the fine-tuning run id. An empty id leaves ctx
// unchanged.
func WithRunID(ctx context.Context, id string) context.Context {
	return withString(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id set by WithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, runIDKey{})
}

// WithStage tags ctx with the workflow stage (prepare, train, publish).
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage set by WithStage.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, stageKey{})
}

// WithSplit tags ctx with the dataset split being worked on.
func WithSplit(ctx context.Context, split string) context.Context {
	return withString(ctx, splitKey{}, split)
}

// SplitFromContext returns the split set by WithSplit.
func SplitFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, splitKey{})
}

func withString(ctx context.Context, key any, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key any) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
