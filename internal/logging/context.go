package logging

import (
	"context"
	"log/slog"

	"whispertune/internal/services"
)

// Standard attribute keys.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldStage     = "stage"
	FieldSplit     = "split"
	// FieldStep is the optimizer step reported by the training runtime.
	FieldStep = "step"
	// FieldEventType classifies a line for filtering, e.g. "runtime_eval".
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for warnings and errors.
	FieldErrorHint = "error_hint"
)

var contextFields = []struct {
	key string
	get func(context.Context) (string, bool)
}{
	{FieldRunID, services.RunIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldSplit, services.SplitFromContext},
}

// ContextFields returns the run, stage and split attributes carried by ctx.
func ContextFields(ctx context.Context) []Attr {
	if ctx == nil {
		return nil
	}
	var fields []Attr
	for _, f := range contextFields {
		if v, ok := f.get(ctx); ok {
			fields = append(fields, String(f.key, v))
		}
	}
	return fields
}

// WithContext adds the fields from ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
