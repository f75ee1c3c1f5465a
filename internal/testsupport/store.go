package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/store"
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

// NewExecution creates a pending execution for tests using the provided
// store.
func NewExecution(t testing.TB, st *store.Store, id, workItem string) *store.Execution {
	t.Helper()

	execution, err := st.CreateExecution(context.Background(), id, workItem)
	if err != nil {
		t.Fatalf("store.CreateExecution: %v", err)
	}
	return execution
}
