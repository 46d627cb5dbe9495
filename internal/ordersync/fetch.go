package ordersync

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/loader"
)

func (c *Core) setFlag(flags map[domain.Collection]bool, name domain.Collection, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		flags[name] = true
		return
	}
	delete(flags, name)
}

func (c *Core) setInitializing(v bool) {
	c.mu.Lock()
	c.initializing = v
	c.mu.Unlock()
}

// fetchFirstPage loads page one of an order collection unless the cache says
// the data it holds is still good.
func (c *Core) fetchFirstPage(ctx context.Context, lg *logger.Logger, name domain.Collection, force bool) error {
	if !c.cache.ShouldFetch(name, force) {
		lg.Debug("cache_fresh", map[string]any{"collection": string(name)})
		return nil
	}
	actor, err := c.identity.Actor(ctx)
	if err != nil {
		return err
	}
	filters := c.Filters()
	gen, ok := c.cache.Begin(name, filters)
	if !ok {
		lg.Debug("fetch_already_in_flight", map[string]any{"collection": string(name)})
		return nil
	}
	flags := c.loading
	if force {
		flags = c.refreshing
	}
	c.setFlag(flags, name, true)
	defer c.setFlag(flags, name, false)

	mark := c.overlay.Mark()
	page, err := c.api.FetchOrders(ctx, name, domain.PageRequest{
		Page:         1,
		PageSize:     c.pageSize,
		Filters:      filters,
		ForceRefresh: force,
		ActorID:      actor.ID,
	})
	if err != nil {
		c.cache.Fail(name, gen)
		return fmt.Errorf("fetch %s: %w", name, err)
	}
	if !c.cache.Apply(name, gen, page) {
		lg.Debug("stale_response_dropped", map[string]any{"collection": string(name), "generation": gen})
		return nil
	}
	c.overlay.Reconcile(page.Orders, mark)
	if l, ok := c.loaders[name]; ok {
		l.Restart(page.Pagination)
	}
	lg.Debug("collection_loaded", map[string]any{
		"collection": string(name), "count": len(page.Orders), "total": page.Pagination.Total,
	})
	return nil
}

func (c *Core) fetchStats(ctx context.Context, lg *logger.Logger, force bool) error {
	name := domain.CollectionStats
	if !c.cache.ShouldFetch(name, force) {
		return nil
	}
	actor, err := c.identity.Actor(ctx)
	if err != nil {
		return err
	}
	filters := c.Filters()
	gen, ok := c.cache.Begin(name, filters)
	if !ok {
		return nil
	}
	flags := c.loading
	if force {
		flags = c.refreshing
	}
	c.setFlag(flags, name, true)
	defer c.setFlag(flags, name, false)

	stats, err := c.api.FetchStats(ctx, domain.PageRequest{Filters: filters, ForceRefresh: force, ActorID: actor.ID})
	if err != nil {
		c.cache.Fail(name, gen)
		return fmt.Errorf("fetch stats: %w", err)
	}
	if !c.cache.ApplyStats(name, gen, stats) {
		lg.Debug("stale_response_dropped", map[string]any{"collection": string(name), "generation": gen})
	}
	return nil
}

// pageFunc serves the loader's follow-up pages through the cache so they
// obey the same generation rules as first pages.
func (c *Core) pageFunc(name domain.Collection) loader.PageFunc {
	return func(ctx context.Context, n int, filters domain.Filters) (domain.Page, error) {
		actor, err := c.identity.Actor(ctx)
		if err != nil {
			return domain.Page{}, err
		}
		gen, ok := c.cache.Begin(name, filters)
		if !ok {
			return domain.Page{}, domain.ErrBusy
		}
		mark := c.overlay.Mark()
		page, err := c.api.FetchOrders(ctx, name, domain.PageRequest{
			Page:     n,
			PageSize: c.pageSize,
			Filters:  filters,
			ActorID:  actor.ID,
		})
		if err != nil {
			c.cache.Fail(name, gen)
			return domain.Page{}, fmt.Errorf("fetch %s page %d: %w", name, n, err)
		}
		if c.cache.Apply(name, gen, page) {
			c.overlay.Reconcile(page.Orders, mark)
		}
		return page, nil
	}
}

// autoFill keeps loading while a collection shows nothing but has pages
// left; the loader's empty-page guard bounds it.
func (c *Core) autoFill(ctx context.Context, lg *logger.Logger) {
	for _, name := range domain.OrderCollections {
		l := c.loaders[name]
		if len(c.Orders(name)) > 0 || !l.HasMore() {
			continue
		}
		n, err := l.Fill(ctx, 1)
		if err != nil {
			lg.Warn("auto_load_failed", err, map[string]any{"collection": string(name)})
			continue
		}
		lg.Debug("auto_loaded", map[string]any{"collection": string(name), "pages": n, "halted": l.Halted()})
	}
}

// RefreshCounters re-fetches the stats counters; called by the scheduler.
func (c *Core) RefreshCounters(ctx context.Context) error {
	return c.fetchStats(ctx, c.requestLogger(), true)
}

// RefreshCollections re-fetches page one of every order collection; called
// by the scheduler.
func (c *Core) RefreshCollections(ctx context.Context) error {
	lg := c.requestLogger()
	var errs []error
	for _, name := range domain.OrderCollections {
		if err := c.fetchFirstPage(ctx, lg, name, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
