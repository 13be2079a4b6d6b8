package services_test

import (
	"context"
	"testing"

	"whispertune/internal/services"
)

func TestContextValues(t *testing.T) {
	ctx := services.WithRunID(context.Background(), "run-42")
	ctx = services.WithStage(ctx, "prepare")
	ctx = services.WithSplit(ctx, "train+validation")

	tests := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"run id", services.RunIDFromContext, "run-42"},
		{"stage", services.StageFromContext, "prepare"},
		{"split", services.SplitFromContext, "train+validation"},
	}
	for _, tt := range tests {
		got, ok := tt.get(ctx)
		if !ok || got != tt.want {
			t.Errorf("%s = %q, %v; want %q", tt.name, got, ok, tt.want)
		}
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	base := context.Background()
	ctx := services.WithSplit(services.WithStage(services.WithRunID(base, ""), ""), "")
	if ctx != base {
		t.Fatal("empty values should return the parent context")
	}
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("unexpected run id")
	}
}

func TestInnerValueWins(t *testing.T) {
	ctx := services.WithSplit(context.Background(), "train")
	ctx = services.WithSplit(ctx, "test")
	if split, _ := services.SplitFromContext(ctx); split != "test" {
		t.Fatalf("split = %q, want test", split)
	}
}
