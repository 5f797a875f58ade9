package storage

import (
	"context"
	"fmt"
	"testing"
)

// OpenTest builds a fresh in-memory SQLite-backed Backend for test use,
// one database per call so tests never share state.
func OpenTest(t *testing.T) *Backend {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	backend, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open test backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}
