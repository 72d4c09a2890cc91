package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-harvest/internal/config"
	"github.com/sells-group/address-harvest/internal/db"
	"github.com/sells-group/address-harvest/internal/harvest"
)

// newStore opens the job store selected by store.driver.
func newStore(ctx context.Context, cfg config.StoreConfig) (harvest.Store, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: database_url is required for the postgres driver")
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return harvest.NewPostgresStore(pool), nil

	case "sqlite":
		return harvest.NewSQLite(cfg.SQLitePath)

	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", cfg.Driver)
	}
}
