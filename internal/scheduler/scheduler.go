// Package scheduler turns push notifications and manual requests into
// refreshes, spacing them per signal kind. Events arriving before the spacing
// has elapsed are dropped, never replayed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
)

type Signal string

const (
	SignalCounters    Signal = "counters"
	SignalCollections Signal = "collections"
)

const (
	DefaultCountersSpacing    = 500 * time.Millisecond
	DefaultCollectionsSpacing = time.Second
)

// Target performs the refreshes the scheduler decides on.
type Target interface {
	RefreshCounters(ctx context.Context) error
	RefreshCollections(ctx context.Context) error
}

// Subscriber is the part of the transport the scheduler drives on reconnect.
type Subscriber interface {
	Subscribe(ctx context.Context, filters domain.Filters) error
}

type Config struct {
	CountersSpacing    time.Duration
	CollectionsSpacing time.Duration
	Now                func() time.Time
}

type Scheduler struct {
	mu        sync.Mutex
	now       func() time.Time
	limiters  map[Signal]*rate.Limiter
	lastFired map[Signal]time.Time
	dropped   map[Signal]int

	filters            *domain.Filters
	resubscribePending bool

	target Target
	sub    Subscriber
	lg     *logger.Logger
}

func New(cfg Config, target Target, sub Subscriber, lg *logger.Logger) *Scheduler {
	if cfg.CountersSpacing <= 0 {
		cfg.CountersSpacing = DefaultCountersSpacing
	}
	if cfg.CollectionsSpacing <= 0 {
		cfg.CollectionsSpacing = DefaultCollectionsSpacing
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		now: cfg.Now,
		limiters: map[Signal]*rate.Limiter{
			SignalCounters:    rate.NewLimiter(rate.Every(cfg.CountersSpacing), 1),
			SignalCollections: rate.NewLimiter(rate.Every(cfg.CollectionsSpacing), 1),
		},
		lastFired: make(map[Signal]time.Time),
		dropped:   make(map[Signal]int),
		target:    target,
		sub:       sub,
		lg:        lg,
	}
}

// signalsFor maps a push event type to the refreshes it asks for.
func signalsFor(eventType string) []Signal {
	switch eventType {
	case domain.EventStatsChanged:
		return []Signal{SignalCounters}
	case domain.EventOrderCreated, domain.EventOrderUpdated, domain.EventOrderStatusChanged, domain.EventOrderAssigned:
		return []Signal{SignalCounters, SignalCollections}
	default:
		return nil
	}
}

// HandlePush applies the spacing policy to one push event and runs the
// refreshes that pass. It returns the signals that fired.
func (s *Scheduler) HandlePush(ctx context.Context, ev domain.PushEvent) []Signal {
	wanted := signalsFor(ev.Type)
	if len(wanted) == 0 {
		return nil
	}

	s.mu.Lock()
	if ev.Filters != nil && s.filters != nil && ev.Filters.WarehouseID != "" &&
		s.filters.WarehouseID != "" && ev.Filters.WarehouseID != s.filters.WarehouseID {
		s.mu.Unlock()
		s.lg.Debug("push_ignored_other_warehouse", map[string]any{"type": ev.Type, "warehouse_id": ev.Filters.WarehouseID})
		return nil
	}
	now := s.now()
	fired := make([]Signal, 0, len(wanted))
	for _, sig := range wanted {
		if s.limiters[sig].AllowN(now, 1) {
			s.lastFired[sig] = now
			fired = append(fired, sig)
		} else {
			s.dropped[sig]++
		}
	}
	s.mu.Unlock()

	for _, sig := range fired {
		s.run(ctx, sig, "push")
	}
	return fired
}

// Manual runs an explicit user refresh. It bypasses the spacing but counts as
// a firing, so a push right after it is dropped.
func (s *Scheduler) Manual(ctx context.Context, sig Signal) error {
	s.mu.Lock()
	now := s.now()
	if l, ok := s.limiters[sig]; ok {
		// restart the spacing window at now
		fresh := rate.NewLimiter(l.Limit(), 1)
		fresh.AllowN(now, 1)
		s.limiters[sig] = fresh
	}
	s.lastFired[sig] = now
	s.mu.Unlock()
	return s.run(ctx, sig, "manual")
}

func (s *Scheduler) run(ctx context.Context, sig Signal, source string) error {
	var err error
	switch sig {
	case SignalCounters:
		err = s.target.RefreshCounters(ctx)
	case SignalCollections:
		err = s.target.RefreshCollections(ctx)
	}
	if err != nil {
		s.lg.Warn("refresh_failed", err, map[string]any{"signal": string(sig), "source": source})
	}
	return err
}

// SetFilterContext records the current filters; a deferred resubscription is
// performed now that there is something to subscribe with.
func (s *Scheduler) SetFilterContext(ctx context.Context, f domain.Filters) error {
	s.mu.Lock()
	fc := f
	s.filters = &fc
	pending := s.resubscribePending
	s.resubscribePending = false
	s.mu.Unlock()

	if pending {
		return s.subscribe(ctx, f)
	}
	return nil
}

// Activate switches the filter context and subscribes with it right away.
func (s *Scheduler) Activate(ctx context.Context, f domain.Filters) error {
	s.mu.Lock()
	fc := f
	s.filters = &fc
	s.resubscribePending = false
	s.mu.Unlock()
	return s.subscribe(ctx, f)
}

// OnReconnect resubscribes with the current filter context, or defers until
// one is set.
func (s *Scheduler) OnReconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.filters == nil {
		s.resubscribePending = true
		s.mu.Unlock()
		s.lg.Info("resubscribe_deferred", nil)
		return nil
	}
	f := *s.filters
	s.mu.Unlock()
	return s.subscribe(ctx, f)
}

func (s *Scheduler) subscribe(ctx context.Context, f domain.Filters) error {
	if s.sub == nil {
		return nil
	}
	if err := s.sub.Subscribe(ctx, f); err != nil {
		s.mu.Lock()
		s.resubscribePending = true
		s.mu.Unlock()
		s.lg.Error("resubscribe_failed", err, map[string]any{"filters": f.Key()})
		return err
	}
	s.lg.Info("resubscribed", map[string]any{"filters": f.Key()})
	return nil
}

func (s *Scheduler) ResubscribePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resubscribePending
}

func (s *Scheduler) LastFired(sig Signal) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFired[sig]
}

func (s *Scheduler) Dropped(sig Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[sig]
}
