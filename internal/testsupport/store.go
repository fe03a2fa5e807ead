package testsupport

import (
	"testing"

	"treadle/state"
)

// MustOpenStore opens a durable state store for tests and registers cleanup.
func MustOpenStore(t testing.TB, path string) *state.SQLStore {
	t.Helper()

	store, err := state.Open(path)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Item is a minimal work item for tests.
type Item struct {
	Identity string
}

// ID returns the item's stable identity.
func (i Item) ID() string {
	return i.Identity
}
