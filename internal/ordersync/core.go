// Package ordersync is the synchronization core: it owns the collection
// cache, the local action overlay, the refresh scheduler and one loader per
// order collection, and exposes read accessors and commands over them.
package ordersync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fulfillment-sync/internal/cache"
	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/history"
	"fulfillment-sync/internal/loader"
	"fulfillment-sync/internal/overlay"
	"fulfillment-sync/internal/scheduler"
	"fulfillment-sync/internal/status"
)

// API is the backend the core reads from and acts through.
type API interface {
	FetchOrders(ctx context.Context, c domain.Collection, req domain.PageRequest) (domain.Page, error)
	FetchStats(ctx context.Context, req domain.PageRequest) (domain.Stats, error)
	Take(ctx context.Context, req domain.ActionRequest) error
	Release(ctx context.Context, req domain.ActionRequest) error
	AdvanceStatus(ctx context.Context, req domain.ActionRequest) error
	Cancel(ctx context.Context, req domain.ActionRequest) error
}

// Transport delivers push events; the core only manages the subscription.
type Transport interface {
	Subscribe(ctx context.Context, filters domain.Filters) error
	Unsubscribe(ctx context.Context) error
	IsConnected() bool
	ForceReconnect(ctx context.Context) error
}

type IdentityProvider interface {
	Actor(ctx context.Context) (domain.Actor, error)
}

const DefaultPageSize = 20

type Config struct {
	PageSize           int
	CacheTTL           time.Duration
	CountersSpacing    time.Duration
	CollectionsSpacing time.Duration
	MaxEmptyPages      int
	LoadMoreFloor      time.Duration
	Filters            domain.Filters
	Now                func() time.Time
}

type Core struct {
	api       API
	transport Transport
	identity  IdentityProvider
	lg        *logger.Logger
	now       func() time.Time
	pageSize  int

	cache   *cache.Cache
	overlay *overlay.Overlay
	sched   *scheduler.Scheduler
	loaders map[domain.Collection]*loader.Loader

	mu           sync.Mutex
	filters      domain.Filters
	initializing bool
	loading      map[domain.Collection]bool
	refreshing   map[domain.Collection]bool
	pending      map[string]pendingStep
}

// pendingStep is the history step of an unresolved action, owned by the
// overlay sequence number of that action.
type pendingStep struct {
	seq  uint64
	step domain.ProcessingStep
}

func New(cfg Config, api API, transport Transport, identity IdentityProvider, lg *logger.Logger) *Core {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	c := &Core{
		api:        api,
		transport:  transport,
		identity:   identity,
		lg:         lg,
		now:        cfg.Now,
		pageSize:   cfg.PageSize,
		cache:      cache.New(cache.WithDefaultTTL(cfg.CacheTTL), cache.WithClock(cfg.Now)),
		overlay:    overlay.New(cfg.Now),
		loaders:    make(map[domain.Collection]*loader.Loader, len(domain.OrderCollections)),
		filters:    cfg.Filters,
		loading:    make(map[domain.Collection]bool),
		refreshing: make(map[domain.Collection]bool),
		pending:    make(map[string]pendingStep),
	}

	var sub scheduler.Subscriber
	if transport != nil {
		sub = transport
	}
	c.sched = scheduler.New(scheduler.Config{
		CountersSpacing:    cfg.CountersSpacing,
		CollectionsSpacing: cfg.CollectionsSpacing,
		Now:                cfg.Now,
	}, c, sub, lg)

	for _, name := range domain.OrderCollections {
		name := name
		l := loader.New(name, c.pageFunc(name), loader.Config{
			MaxEmptyPages: cfg.MaxEmptyPages,
			ManualFloor:   cfg.LoadMoreFloor,
			Now:           cfg.Now,
			Refreshing:    func() bool { return c.busy(name) },
		}, lg)
		l.SetFilters(cfg.Filters)
		c.loaders[name] = l
	}
	return c
}

func (c *Core) requestLogger() *logger.Logger {
	return c.lg.WithRequest(uuid.NewString())
}

func (c *Core) Filters() domain.Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// Orders is the collection as the user sees it: cached server data with
// pending local actions merged in and the client-side filters applied.
func (c *Core) Orders(name domain.Collection) []domain.Order {
	merged := c.overlay.Apply(c.cache.Get(name).Orders)
	if l, ok := c.loaders[name]; ok {
		return loader.Filter(merged, l.Filters())
	}
	return merged
}

func (c *Core) Pagination(name domain.Collection) domain.Pagination {
	return c.cache.Get(name).Pagination
}

func (c *Core) Stats() (domain.Stats, bool) {
	e := c.cache.Get(domain.CollectionStats)
	if e.Stats == nil {
		return domain.Stats{}, false
	}
	return *e.Stats, true
}

// Order returns one order with its pending local action applied.
func (c *Core) Order(orderID string) (domain.Order, bool) {
	ord, ok := c.cache.Find(orderID)
	if !ok {
		return domain.Order{}, false
	}
	return c.overlay.Apply([]domain.Order{ord})[0], true
}

func (c *Core) LocalAction(orderID string) (domain.LocalOrderAction, bool) {
	return c.overlay.Get(orderID)
}

func (c *Core) Initializing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializing
}

func (c *Core) Loading(name domain.Collection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading[name]
}

func (c *Core) Refreshing(name domain.Collection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing[name]
}

func (c *Core) busy(name domain.Collection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializing || c.loading[name] || c.refreshing[name]
}

// History reconstructs the processing steps of an order, with the step of a
// still unresolved local action shown first.
func (c *Core) History(orderID string) ([]domain.ProcessingStep, bool) {
	ord, ok := c.cache.Find(orderID)
	if !ok {
		return nil, false
	}
	steps := history.Reconstruct(ord.StatusHistory)
	c.mu.Lock()
	p, pending := c.pending[orderID]
	c.mu.Unlock()
	if pending {
		steps = history.MergeLocal([]domain.ProcessingStep{p.step}, steps)
	}
	return steps, true
}

// AvailableStatuses lists where the current actor may move the order. An
// empty list means there is nothing to do.
func (c *Core) AvailableStatuses(ctx context.Context, orderID string) ([]domain.Status, error) {
	actor, err := c.identity.Actor(ctx)
	if err != nil {
		return nil, err
	}
	ord, ok := c.Order(orderID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return status.AvailableStatuses(ord.Status, actor.EffectiveRole()), nil
}

// State is a snapshot of the core's flags.
type State struct {
	Initializing bool                           `json:"initializing"`
	Loading      map[domain.Collection]bool     `json:"loading"`
	Refreshing   map[domain.Collection]bool     `json:"refreshing"`
	Halted       map[domain.Collection]bool     `json:"halted"`
	Fresh        map[domain.Collection]bool     `json:"fresh"`
	Connected    bool                           `json:"connected"`
	Filters      domain.Filters                 `json:"filters"`
	LocalActions int                            `json:"local_actions"`
	LastFired    map[scheduler.Signal]time.Time `json:"last_fired"`
}

func (c *Core) State() State {
	st := State{
		Loading:      make(map[domain.Collection]bool),
		Refreshing:   make(map[domain.Collection]bool),
		Halted:       make(map[domain.Collection]bool),
		Fresh:        make(map[domain.Collection]bool),
		LocalActions: c.overlay.Len(),
		LastFired: map[scheduler.Signal]time.Time{
			scheduler.SignalCounters:    c.sched.LastFired(scheduler.SignalCounters),
			scheduler.SignalCollections: c.sched.LastFired(scheduler.SignalCollections),
		},
	}
	if c.transport != nil {
		st.Connected = c.transport.IsConnected()
	}
	for name, l := range c.loaders {
		st.Halted[name] = l.Halted()
	}
	for _, name := range append(append([]domain.Collection(nil), domain.OrderCollections...), domain.CollectionStats) {
		st.Fresh[name] = c.cache.IsFresh(name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st.Initializing = c.initializing
	st.Filters = c.filters
	for k, v := range c.loading {
		st.Loading[k] = v
	}
	for k, v := range c.refreshing {
		st.Refreshing[k] = v
	}
	return st
}
