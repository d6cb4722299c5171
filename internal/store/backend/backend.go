// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"outreach/internal/config"
	"outreach/internal/dispatch"
	"outreach/internal/service"
	"outreach/internal/store/memory"
	"outreach/internal/store/pg"
)

// Store is everything the processes need from a store backend.
type Store interface {
	service.CampaignStore
	service.RecipientSource
	service.Queue
	dispatch.Store
	Ping(ctx context.Context) error
}

var (
	_ Store = (*pg.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// Open returns the configured store and a close func. The memory store is
// process-local and only useful for single-process demos.
func Open(ctx context.Context, cfg config.DBConfig) (Store, func(), error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), func() {}, nil
	case "", "postgres":
		if cfg.DBDSN == "" {
			return nil, nil, fmt.Errorf("DB_DSN is required for STORE=postgres")
		}
		db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
			MaxConns:          cfg.DBPoolMaxConns,
			MinConns:          cfg.DBPoolMinConns,
			MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
			MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
			HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg.New(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}
