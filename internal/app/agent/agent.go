// Package agent runs the sync agent: the synchronization core fed by
// PostgreSQL and RabbitMQ, exposed over HTTP.
package agent

import (
	"context"
	"fmt"

	"fulfillment-sync/internal/common/httpx"
	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/config"
	"fulfillment-sync/internal/connections/database"
	"fulfillment-sync/internal/connections/rabbitmq"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/identity"
	"fulfillment-sync/internal/ordersync"
	"fulfillment-sync/internal/repository"
)

type Options struct {
	MaxConcurrent int
}

func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	lg := logger.New("sync-agent")

	db, err := database.ConnectDB(ctx, cfg.Database, lg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	if err := repository.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	lg.Info("db_connected", map[string]any{"host": cfg.Database.Host, "database": cfg.Database.Database})

	transport := rabbitmq.NewPushTransport(rabbitmq.FromConfig(cfg.RabbitMQ), lg)
	if err := transport.Connect(ctx); err != nil {
		// the watcher keeps redialing; collections still load from the db
		lg.Warn("rabbitmq_unavailable", err, nil)
	}
	defer transport.Close()

	ids := identity.NewTokenProvider(cfg.Identity.TokenSecret, cfg.Identity.AccessToken)
	api := withPublisher(repository.NewOrdersRepository(db), transport, cfg.Sync.WarehouseID, lg)

	core := ordersync.New(ordersync.Config{
		PageSize:           cfg.Sync.PageSize,
		CacheTTL:           cfg.Sync.CacheTTL,
		CountersSpacing:    cfg.Sync.CountersSpacing,
		CollectionsSpacing: cfg.Sync.CollectionsSpacing,
		MaxEmptyPages:      cfg.Sync.MaxEmptyPages,
		LoadMoreFloor:      cfg.Sync.LoadMoreFloor,
		Filters: domain.Filters{
			WarehouseID: cfg.Sync.WarehouseID,
			DistrictID:  cfg.Sync.DistrictID,
		},
	}, api, transport, ids, lg)

	transport.OnEvent(func(ctx context.Context, ev domain.PushEvent) {
		core.HandlePush(ctx, ev)
	})
	transport.OnReconnect(core.OnReconnect)
	go transport.Watch(ctx)

	if res := core.LoadInitial(ctx); !res.Success && !res.Silent {
		lg.Warn("initial_load_incomplete", res.Err, nil)
	}

	h := NewHandler(core, lg)
	handler := httpx.Logging(lg, httpx.Recover(lg, httpx.MaxConcurrent(opts.MaxConcurrent, Router(h))))
	lg.Info("service_started", map[string]any{"addr": cfg.HTTP.Addr, "warehouse_id": cfg.Sync.WarehouseID})
	if err := httpx.New(cfg.HTTP.Addr, handler).Run(ctx); err != nil {
		return err
	}
	return core.Close(context.Background())
}
