package testsupport

import (
	"testing"

	"flux/internal/catalog"
	"flux/internal/config"
	"flux/internal/logging"
	"flux/internal/vault"
)

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenVault opens a vault.Store for tests and registers cleanup.
func MustOpenVault(t testing.TB, cfg *config.Config, opts ...vault.Option) *vault.Store {
	t.Helper()

	store, err := vault.Open(cfg, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
