package dataset

import (
	"context"
	"fmt"
	"strings"

	"whispertune/internal/services"
)

// Example is one audio clip and its reference transcript.
type Example struct {
	Path     string `json:"path"`
	Sentence string `json:"sentence"`
}

// Source produces the examples of a single split.
type Source interface {
	Name() string
	Examples(ctx context.Context, split string) ([]Example, error)
}

// ParseSplits expands a split expression such as "train+validation".
func ParseSplits(expr string) ([]string, error) {
	parts := strings.Split(expr, "+")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, services.Wrap(services.ErrValidation, "dataset", "parse split", fmt.Sprintf("invalid split expression %q", expr), nil)
		}
		out = append(out, part)
	}
	return out, nil
}

// Load resolves every split of expr against src and concatenates the results
// in order. A positive limit truncates the combined list.
func Load(ctx context.Context, src Source, expr string, limit int) ([]Example, error) {
	splits, err := ParseSplits(expr)
	if err != nil {
		return nil, err
	}
	var all []Example
	for _, split := range splits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		examples, err := src.Examples(ctx, split)
		if err != nil {
			return nil, fmt.Errorf("%s split %q: %w", src.Name(), split, err)
		}
		all = append(all, examples...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
	}
	if len(all) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "dataset", "load", fmt.Sprintf("split %q has no examples", expr), nil)
	}
	return all, nil
}

// fileSplit maps split names onto Common Voice file names.
func fileSplit(split string) string {
	if split == "validation" {
		return "dev"
	}
	return split
}
