// Package cache is the per-collection staleness cache. Freshness is judged
// only by time since the last successful fetch; stale data stays readable.
package cache

import (
	"sync"
	"time"

	"fulfillment-sync/internal/domain"
)

const DefaultTTL = 2 * time.Minute

// Entry is a snapshot of one collection.
type Entry struct {
	Orders     []domain.Order
	Stats      *domain.Stats
	Pagination domain.Pagination
	Filters    domain.Filters
	LastFetch  time.Time
	InFlight   bool
}

func (e Entry) Empty() bool { return len(e.Orders) == 0 && e.Stats == nil }

type entry struct {
	Entry
	issued  uint64 // generation of the most recently issued request
	applied uint64
}

type Cache struct {
	mu      sync.Mutex
	entries map[domain.Collection]*entry
	ttl     map[domain.Collection]time.Duration
	defTTL  time.Duration
	now     func() time.Time
}

type Option func(*Cache)

func WithTTL(c domain.Collection, ttl time.Duration) Option {
	return func(cc *Cache) { cc.ttl[c] = ttl }
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(cc *Cache) {
		if ttl > 0 {
			cc.defTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cc *Cache) {
		if now != nil {
			cc.now = now
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[domain.Collection]*entry),
		ttl:     make(map[domain.Collection]time.Duration),
		defTTL:  DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) get(name domain.Collection) *entry {
	e, ok := c.entries[name]
	if !ok {
		e = &entry{}
		c.entries[name] = e
	}
	return e
}

func (c *Cache) TTL(name domain.Collection) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttlLocked(name)
}

func (c *Cache) ttlLocked(name domain.Collection) time.Duration {
	if ttl, ok := c.ttl[name]; ok {
		return ttl
	}
	return c.defTTL
}

// IsFresh: fetched at least once and now - lastFetch < TTL.
func (c *Cache) IsFresh(name domain.Collection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked(name)
}

func (c *Cache) freshLocked(name domain.Collection) bool {
	e := c.get(name)
	if e.LastFetch.IsZero() {
		return false
	}
	return c.now().Sub(e.LastFetch) < c.ttlLocked(name)
}

// ShouldFetch: forced, stale or empty collections go to the network.
func (c *Cache) ShouldFetch(name domain.Collection, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force {
		return true
	}
	return !c.freshLocked(name) || c.get(name).Empty()
}

// Begin issues a new request generation. It refuses while another request
// for the collection is in flight.
func (c *Cache) Begin(name domain.Collection, filters domain.Filters) (gen uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name)
	if e.InFlight {
		return 0, false
	}
	e.issued++
	e.InFlight = true
	e.Filters = filters
	return e.issued, true
}

// Apply stores a successful response if gen is still the latest issued
// request. Page 1 replaces the data; later pages append.
func (c *Cache) Apply(name domain.Collection, gen uint64, page domain.Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name)
	if gen != e.issued || gen <= e.applied {
		return false
	}
	e.applied = gen
	e.InFlight = false

	orders := make([]domain.Order, 0, len(page.Orders))
	for _, o := range page.Orders {
		orders = append(orders, o.Clone())
	}
	if page.Pagination.Page > 1 {
		e.Orders = append(e.Orders, orders...)
	} else {
		e.Orders = orders
		e.LastFetch = c.now()
	}
	e.Pagination = page.Pagination
	return true
}

// ApplyStats is Apply for the stats collection.
func (c *Cache) ApplyStats(name domain.Collection, gen uint64, stats domain.Stats) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name)
	if gen != e.issued || gen <= e.applied {
		return false
	}
	e.applied = gen
	e.InFlight = false
	s := stats
	e.Stats = &s
	e.LastFetch = c.now()
	return true
}

// Fail ends request gen without touching data or fetch time.
func (c *Cache) Fail(name domain.Collection, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name)
	if gen == e.issued {
		e.InFlight = false
	}
}

// Invalidate marks the collection stale; the data stays readable.
func (c *Cache) Invalidate(name domain.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(name).LastFetch = time.Time{}
}

// Clear drops the data and supersedes any request in flight, so its response
// is discarded when it arrives.
func (c *Cache) Clear(name domain.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name)
	e.issued++
	e.Entry = Entry{}
}

func (c *Cache) Get(name domain.Collection) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.get(name).Entry
	orders := make([]domain.Order, 0, len(e.Orders))
	for _, o := range e.Orders {
		orders = append(orders, o.Clone())
	}
	e.Orders = orders
	return e
}

// Update rewrites the cached copy of one order in every collection holding it.
func (c *Cache) Update(orderID string, fn func(*domain.Order)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		for i := range e.Orders {
			if e.Orders[i].ID == orderID {
				fn(&e.Orders[i])
				n++
			}
		}
	}
	return n
}

// Find returns the cached copy of an order from any collection.
func (c *Cache) Find(orderID string) (domain.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range domain.OrderCollections {
		e, ok := c.entries[name]
		if !ok {
			continue
		}
		for _, o := range e.Orders {
			if o.ID == orderID {
				return o.Clone(), true
			}
		}
	}
	return domain.Order{}, false
}
