package testsupport

import (
	"context"
	"testing"

	"whispertune/internal/config"
	"whispertune/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewRun creates a pending run for tests using the provided store.
func NewRun(t testing.TB, st *store.Store, id string) *store.Run {
	t.Helper()

	run, err := st.CreateRun(context.Background(), id, `{}`, "/tmp/output", "")
	if err != nil {
		t.Fatalf("store.CreateRun: %v", err)
	}
	return run
}
