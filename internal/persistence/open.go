// Package persistence selects a record persister from configuration.
package persistence

import (
	"context"
	"fmt"

	"github.com/celerix-dev/celerix-collections/internal/config"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/persistence/postgres"
	"github.com/celerix-dev/celerix-collections/internal/persistence/sqlite"
	"github.com/celerix-dev/celerix-collections/internal/vault"
)

// Open returns the persister for cfg.Driver and a func releasing it.
// The memory driver yields a nil Persister.
func Open(ctx context.Context, cfg config.StorageConfig) (engine.Persister, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return nil, noop, nil

	case config.DriverJSON, "":
		p, err := engine.NewPersistence(cfg.DataDir)
		if err != nil {
			return nil, noop, err
		}
		if cfg.VaultKey != "" {
			key, err := vault.ParseKey(cfg.VaultKey)
			if err != nil {
				return nil, noop, err
			}
			if err := p.EnableEncryption(key); err != nil {
				return nil, noop, err
			}
		}
		return p, noop, nil

	case config.DriverSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
