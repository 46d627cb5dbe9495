// Package loader drives page-by-page loading of a filtered collection view.
// Pages are filtered on the client, so a page can come back with nothing
// visible while more pages remain; the loader stops auto-loading after a run
// of such pages until the filters change.
package loader

import (
	"context"
	"sync"
	"time"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
)

const (
	DefaultMaxEmptyPages = 3
	DefaultManualFloor   = time.Second
)

// Skip reasons reported in Outcome.Skipped.
const (
	SkipBusy       = "busy"
	SkipRefreshing = "refreshing"
	SkipDebounced  = "debounced"
	SkipHalted     = "halted"
	SkipExhausted  = "exhausted"
)

// PageFunc fetches and stores page n of the collection under filters.
type PageFunc func(ctx context.Context, n int, filters domain.Filters) (domain.Page, error)

type Config struct {
	MaxEmptyPages int
	ManualFloor   time.Duration
	Now           func() time.Time
	// Refreshing reports whether a refresh or initial load is in flight for
	// the collection; manual load-more is ignored meanwhile.
	Refreshing func() bool
}

type Outcome struct {
	Fetched bool   `json:"fetched"`
	Page    int    `json:"page,omitempty"`
	Visible int    `json:"visible"`
	Halted  bool   `json:"halted"`
	Skipped string `json:"skipped,omitempty"`
}

type Loader struct {
	mu          sync.Mutex
	name        domain.Collection
	filters     domain.Filters
	key         string
	pagination  domain.Pagination
	emptyStreak int
	halted      bool
	busy        bool
	lastManual  time.Time

	maxEmpty   int
	floor      time.Duration
	now        func() time.Time
	refreshing func() bool
	fetch      PageFunc
	lg         *logger.Logger
}

func New(name domain.Collection, fetch PageFunc, cfg Config, lg *logger.Logger) *Loader {
	if cfg.MaxEmptyPages <= 0 {
		cfg.MaxEmptyPages = DefaultMaxEmptyPages
	}
	if cfg.ManualFloor <= 0 {
		cfg.ManualFloor = DefaultManualFloor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Refreshing == nil {
		cfg.Refreshing = func() bool { return false }
	}
	return &Loader{
		name:       name,
		key:        domain.Filters{}.Key(),
		maxEmpty:   cfg.MaxEmptyPages,
		floor:      cfg.ManualFloor,
		now:        cfg.Now,
		refreshing: cfg.Refreshing,
		fetch:      fetch,
		lg:         lg,
	}
}

// SetFilters switches the filter context. A new context clears the empty
// streak and the halt and restarts from page one; it reports whether the
// context actually changed.
func (l *Loader) SetFilters(f domain.Filters) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := f.Key()
	l.filters = f
	if key == l.key {
		return false
	}
	l.key = key
	l.emptyStreak = 0
	l.halted = false
	l.pagination = domain.Pagination{}
	return true
}

func (l *Loader) Filters() domain.Filters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filters
}

// Restart records the pagination of a fresh first page loaded elsewhere
// (initial load or refresh).
func (l *Loader) Restart(p domain.Pagination) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pagination = p
}

func (l *Loader) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

func (l *Loader) EmptyStreak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.emptyStreak
}

func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pagination.HasMore()
}

// AutoLoad is the scroll-driven load of the next page.
func (l *Loader) AutoLoad(ctx context.Context) (Outcome, error) {
	l.mu.Lock()
	if reason := l.blockedLocked(); reason != "" {
		out := Outcome{Skipped: reason, Halted: l.halted}
		l.mu.Unlock()
		return out, nil
	}
	l.busy = true
	l.mu.Unlock()
	return l.load(ctx, false)
}

// LoadMore is the explicit user request. It is ignored while a refresh or
// another load is running and debounced at the manual floor, but it is not
// stopped by the empty-page halt.
func (l *Loader) LoadMore(ctx context.Context) (Outcome, error) {
	if l.refreshing() {
		return Outcome{Skipped: SkipRefreshing, Halted: l.Halted()}, nil
	}
	l.mu.Lock()
	now := l.now()
	switch {
	case l.busy:
		out := Outcome{Skipped: SkipBusy, Halted: l.halted}
		l.mu.Unlock()
		return out, nil
	case !l.lastManual.IsZero() && now.Sub(l.lastManual) < l.floor:
		out := Outcome{Skipped: SkipDebounced, Halted: l.halted}
		l.mu.Unlock()
		return out, nil
	case l.pagination.Page > 0 && !l.pagination.HasMore():
		out := Outcome{Skipped: SkipExhausted, Halted: l.halted}
		l.mu.Unlock()
		return out, nil
	}
	l.lastManual = now
	l.busy = true
	l.mu.Unlock()
	return l.load(ctx, true)
}

// Fill auto-loads until at least want rows have become visible, the pages run
// out or the loader halts. It returns the number of pages fetched.
func (l *Loader) Fill(ctx context.Context, want int) (int, error) {
	fetched, visible := 0, 0
	for visible < want {
		out, err := l.AutoLoad(ctx)
		if err != nil {
			return fetched, err
		}
		if !out.Fetched {
			return fetched, nil
		}
		fetched++
		visible += out.Visible
	}
	return fetched, nil
}

func (l *Loader) blockedLocked() string {
	switch {
	case l.busy:
		return SkipBusy
	case l.halted:
		return SkipHalted
	case l.pagination.Page > 0 && !l.pagination.HasMore():
		return SkipExhausted
	}
	if l.refreshing() {
		return SkipRefreshing
	}
	return ""
}

func (l *Loader) load(ctx context.Context, manual bool) (Outcome, error) {
	l.mu.Lock()
	next := l.pagination.Page + 1
	filters := l.filters
	key := l.key
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.busy = false
		l.mu.Unlock()
	}()

	page, err := l.fetch(ctx, next, filters)
	if err != nil {
		l.lg.Warn("load_page_failed", err, map[string]any{"collection": string(l.name), "page": next})
		return Outcome{Page: next}, err
	}
	visible := len(Filter(page.Orders, filters))

	l.mu.Lock()
	defer l.mu.Unlock()
	if key != l.key {
		// filters changed while the page was in flight
		return Outcome{Page: next, Visible: visible, Halted: l.halted}, nil
	}
	if page.Pagination.Page == 0 {
		page.Pagination.Page = next
	}
	l.pagination = page.Pagination
	switch {
	case visible > 0:
		l.emptyStreak = 0
	case !manual:
		l.emptyStreak++
		if l.emptyStreak >= l.maxEmpty && !l.halted {
			l.halted = true
			l.lg.Info("auto_load_halted", map[string]any{
				"collection": string(l.name), "empty_pages": l.emptyStreak, "filters": key,
			})
		}
	}
	return Outcome{Fetched: true, Page: next, Visible: visible, Halted: l.halted}, nil
}
