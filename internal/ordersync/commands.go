package ordersync

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/loader"
	"fulfillment-sync/internal/scheduler"
)

// LoadInitial subscribes to push events and loads every collection that is
// not already fresh.
func (c *Core) LoadInitial(ctx context.Context) domain.Result {
	lg := c.requestLogger()
	err := c.initialize(ctx, lg)
	c.autoFill(ctx, lg)
	if err != nil {
		lg.Error("load_initial_failed", err, nil)
		return domain.Fail(err)
	}
	lg.Info("load_initial_done", map[string]any{"filters": c.Filters().Key()})
	return domain.OK()
}

func (c *Core) initialize(ctx context.Context, lg *logger.Logger) error {
	c.setInitializing(true)
	defer c.setInitializing(false)

	if err := c.sched.Activate(ctx, c.Filters()); err != nil {
		// push is best effort; the collections still load
		lg.Warn("subscribe_failed", err, nil)
	}
	var errs []error
	for _, name := range domain.OrderCollections {
		if err := c.fetchFirstPage(ctx, lg, name, false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.fetchStats(ctx, lg, false); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Refresh is the explicit user refresh. An empty name refreshes everything.
func (c *Core) Refresh(ctx context.Context, name domain.Collection) domain.Result {
	lg := c.requestLogger()
	var err error
	switch {
	case name == "":
		err = errors.Join(
			c.sched.Manual(ctx, scheduler.SignalCounters),
			c.sched.Manual(ctx, scheduler.SignalCollections),
		)
	case name == domain.CollectionStats:
		err = c.sched.Manual(ctx, scheduler.SignalCounters)
	case name.IsValid():
		err = c.fetchFirstPage(ctx, lg, name, true)
	default:
		err = fmt.Errorf("%w: collection %q", domain.ErrNotFound, name)
	}
	if err != nil {
		lg.Warn("refresh_failed", err, map[string]any{"collection": string(name)})
		return domain.Fail(err)
	}
	c.autoFill(ctx, lg)
	return domain.OK()
}

// LoadMore is the user's explicit request for the next page.
func (c *Core) LoadMore(ctx context.Context, name domain.Collection) (loader.Outcome, domain.Result) {
	l, ok := c.loaders[name]
	if !ok {
		return loader.Outcome{}, domain.Fail(fmt.Errorf("%w: collection %q", domain.ErrNotFound, name))
	}
	out, err := l.LoadMore(ctx)
	if err != nil {
		return out, domain.Fail(err)
	}
	return out, domain.OK()
}

// AutoLoad is the scroll-driven load; it stops after a run of pages that
// filter to nothing until the filters change.
func (c *Core) AutoLoad(ctx context.Context, name domain.Collection) (loader.Outcome, domain.Result) {
	l, ok := c.loaders[name]
	if !ok {
		return loader.Outcome{}, domain.Fail(fmt.Errorf("%w: collection %q", domain.ErrNotFound, name))
	}
	out, err := l.AutoLoad(ctx)
	if err != nil {
		return out, domain.Fail(err)
	}
	return out, domain.OK()
}

// ToggleFilterView switches the filter context: every collection is cleared
// before the reload so rows from the old filters never show under the new.
func (c *Core) ToggleFilterView(ctx context.Context, f domain.Filters) domain.Result {
	lg := c.requestLogger()
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()

	for _, name := range domain.OrderCollections {
		c.cache.Clear(name)
		c.loaders[name].SetFilters(f)
	}
	c.cache.Clear(domain.CollectionStats)
	if err := c.sched.Activate(ctx, f); err != nil {
		lg.Warn("subscribe_failed", err, map[string]any{"filters": f.Key()})
	}

	var errs []error
	for _, name := range domain.OrderCollections {
		if err := c.fetchFirstPage(ctx, lg, name, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.fetchStats(ctx, lg, true); err != nil {
		errs = append(errs, err)
	}
	c.autoFill(ctx, lg)
	if err := errors.Join(errs...); err != nil {
		lg.Error("filter_view_reload_failed", err, map[string]any{"filters": f.Key()})
		return domain.Fail(err)
	}
	lg.Info("filter_view_changed", map[string]any{"filters": f.Key()})
	return domain.OK()
}

// HandlePush feeds a decoded push event to the scheduler.
func (c *Core) HandlePush(ctx context.Context, ev domain.PushEvent) []scheduler.Signal {
	return c.sched.HandlePush(ctx, ev)
}

// OnReconnect is called by the transport after it re-established the
// connection.
func (c *Core) OnReconnect(ctx context.Context) error {
	return c.sched.OnReconnect(ctx)
}

// Reconnect forces the transport to redial and resubscribes.
func (c *Core) Reconnect(ctx context.Context) error {
	if c.transport == nil {
		return nil
	}
	if err := c.transport.ForceReconnect(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return c.OnReconnect(ctx)
}

func (c *Core) Close(ctx context.Context) error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Unsubscribe(ctx)
}
