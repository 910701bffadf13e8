package sdk

import (
	"log/slog"
	"os"

	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/vault"
)

// New initializes the ledger based on the environment.
// It returns the Interface, so the app doesn't care if it's local or remote.
func New(dataDir string) (Collections, error) {
	// 1. Check if a remote daemon is defined in the environment
	if remoteAddr := os.Getenv("COLLECTIONS_STORE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		slog.Warn("collections sdk: daemon unreachable, using embedded store", "addr", remoteAddr, "error", err)
	}

	// 2. Fallback to Embedded Mode
	// This uses the same engine the daemon uses, but inside the app process.
	p, err := engine.NewPersistence(dataDir)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("COLLECTIONS_VAULT_KEY"); key != "" {
		k, err := vault.ParseKey(key)
		if err != nil {
			return nil, err
		}
		if err := p.EnableEncryption(k); err != nil {
			return nil, err
		}
	}

	records, err := p.LoadAll()
	if err != nil {
		return nil, err
	}
	return NewLocal(engine.NewMemStore(records, p), nil), nil
}
