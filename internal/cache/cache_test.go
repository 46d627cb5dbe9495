package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)} }

func page(n int, ids ...string) domain.Page {
	p := domain.Page{Pagination: domain.Pagination{Page: n, Pages: 3, Total: 30}}
	for _, id := range ids {
		p.Orders = append(p.Orders, domain.Order{ID: id, Status: domain.StatusPending})
	}
	return p
}

func TestCache_FreshnessFollowsTTL(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := New(WithClock(clk.Now))
	name := domain.CollectionMyOrders

	assert.False(t, c.IsFresh(name))
	assert.True(t, c.ShouldFetch(name, false))

	gen, ok := c.Begin(name, domain.Filters{})
	require.True(t, ok)
	require.True(t, c.Apply(name, gen, page(1, "a")))

	assert.True(t, c.IsFresh(name))
	assert.False(t, c.ShouldFetch(name, false))
	assert.True(t, c.ShouldFetch(name, true))

	clk.Advance(DefaultTTL - time.Second)
	assert.True(t, c.IsFresh(name))
	clk.Advance(time.Second)
	assert.False(t, c.IsFresh(name))
	assert.True(t, c.ShouldFetch(name, false))
}

func TestCache_EmptyFreshCollectionStillFetches(t *testing.T) {
	t.Parallel()

	c := New()
	gen, _ := c.Begin(domain.CollectionStaffOrders, domain.Filters{})
	c.Apply(domain.CollectionStaffOrders, gen, page(1))
	assert.True(t, c.IsFresh(domain.CollectionStaffOrders))
	assert.True(t, c.ShouldFetch(domain.CollectionStaffOrders, false))
}

func TestCache_IndependentTTLs(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := New(WithClock(clk.Now), WithTTL(domain.CollectionStats, 10*time.Second))
	for _, name := range []domain.Collection{domain.CollectionStats, domain.CollectionMyOrders} {
		gen, _ := c.Begin(name, domain.Filters{})
		c.Apply(name, gen, page(1, "a"))
	}
	clk.Advance(11 * time.Second)
	assert.False(t, c.IsFresh(domain.CollectionStats))
	assert.True(t, c.IsFresh(domain.CollectionMyOrders))
}

func TestCache_FailureKeepsPreviousData(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := New(WithClock(clk.Now))
	name := domain.CollectionAvailableOrders
	gen, _ := c.Begin(name, domain.Filters{})
	c.Apply(name, gen, page(1, "a", "b"))
	before := c.Get(name)

	clk.Advance(time.Minute)
	gen, ok := c.Begin(name, domain.Filters{})
	require.True(t, ok)
	c.Fail(name, gen)

	after := c.Get(name)
	assert.Equal(t, before.LastFetch, after.LastFetch)
	assert.Len(t, after.Orders, 2)
	assert.False(t, after.InFlight)
}

func TestCache_InFlightGatesNewRequests(t *testing.T) {
	t.Parallel()

	c := New()
	_, ok := c.Begin(domain.CollectionMyOrders, domain.Filters{})
	require.True(t, ok)
	_, ok = c.Begin(domain.CollectionMyOrders, domain.Filters{})
	assert.False(t, ok)
}

func TestCache_StaleResponseIsDropped(t *testing.T) {
	t.Parallel()

	c := New()
	name := domain.CollectionStaffOrders
	old, _ := c.Begin(name, domain.Filters{WarehouseID: "w1"})

	c.Clear(name)
	fresh, ok := c.Begin(name, domain.Filters{WarehouseID: "w2"})
	require.True(t, ok)

	require.True(t, c.Apply(name, fresh, page(1, "new")))
	assert.False(t, c.Apply(name, old, page(1, "old")))

	e := c.Get(name)
	require.Len(t, e.Orders, 1)
	assert.Equal(t, "new", e.Orders[0].ID)
	assert.Equal(t, "w2", e.Filters.WarehouseID)
}

func TestCache_LaterPagesAppend(t *testing.T) {
	t.Parallel()

	clk := newClock()
	c := New(WithClock(clk.Now))
	name := domain.CollectionMyOrders
	gen, _ := c.Begin(name, domain.Filters{})
	c.Apply(name, gen, page(1, "a"))
	first := c.Get(name).LastFetch

	clk.Advance(time.Second)
	gen, _ = c.Begin(name, domain.Filters{})
	c.Apply(name, gen, page(2, "b"))

	e := c.Get(name)
	assert.Len(t, e.Orders, 2)
	assert.Equal(t, 2, e.Pagination.Page)
	assert.Equal(t, first, e.LastFetch)
}

func TestCache_InvalidateKeepsData(t *testing.T) {
	t.Parallel()

	c := New()
	name := domain.CollectionMyOrders
	gen, _ := c.Begin(name, domain.Filters{})
	c.Apply(name, gen, page(1, "a"))
	c.Invalidate(name)

	assert.False(t, c.IsFresh(name))
	assert.Len(t, c.Get(name).Orders, 1)
}

func TestCache_UpdateAndFind(t *testing.T) {
	t.Parallel()

	c := New()
	for _, name := range []domain.Collection{domain.CollectionMyOrders, domain.CollectionStaffOrders} {
		gen, _ := c.Begin(name, domain.Filters{})
		c.Apply(name, gen, page(1, "a"))
	}
	n := c.Update("a", func(o *domain.Order) { o.Status = domain.StatusPicking })
	assert.Equal(t, 2, n)

	o, ok := c.Find("a")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPicking, o.Status)
	_, ok = c.Find("zzz")
	assert.False(t, ok)
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New()
	gen, _ := c.Begin(domain.CollectionStats, domain.Filters{})
	require.True(t, c.ApplyStats(domain.CollectionStats, gen, domain.Stats{Total: 4}))
	e := c.Get(domain.CollectionStats)
	require.NotNil(t, e.Stats)
	assert.Equal(t, 4, e.Stats.Total)
	assert.False(t, e.Empty())
}
