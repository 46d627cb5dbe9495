package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type countingTarget struct {
	mu          sync.Mutex
	counters    int
	collections int
	err         error
}

func (c *countingTarget) RefreshCounters(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters++
	return c.err
}

func (c *countingTarget) RefreshCollections(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections++
	return c.err
}

type fakeSubscriber struct {
	calls []domain.Filters
	err   error
}

func (f *fakeSubscriber) Subscribe(_ context.Context, filters domain.Filters) error {
	f.calls = append(f.calls, filters)
	return f.err
}

func newScheduler(clk *fakeClock, target Target, sub Subscriber) *Scheduler {
	return New(Config{Now: clk.Now}, target, sub, logger.NewWithWriter("test", io.Discard))
}

func TestScheduler_BurstCollapsesToOneRefreshEach(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	target := &countingTarget{}
	s := newScheduler(clk, target, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderStatusChanged})
		clk.Advance(20 * time.Millisecond)
	}

	assert.Equal(t, 1, target.counters)
	assert.Equal(t, 1, target.collections)
	assert.Equal(t, 9, s.Dropped(SignalCollections))
}

func TestScheduler_SpacingPerSignalKind(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	target := &countingTarget{}
	s := newScheduler(clk, target, nil)
	ctx := context.Background()
	ev := domain.PushEvent{Type: domain.EventOrderUpdated}

	fired := s.HandlePush(ctx, ev)
	assert.Equal(t, []Signal{SignalCounters, SignalCollections}, fired)

	clk.Advance(500 * time.Millisecond)
	fired = s.HandlePush(ctx, ev)
	assert.Equal(t, []Signal{SignalCounters}, fired)

	clk.Advance(500 * time.Millisecond)
	fired = s.HandlePush(ctx, ev)
	assert.Equal(t, []Signal{SignalCounters, SignalCollections}, fired)

	assert.Equal(t, 3, target.counters)
	assert.Equal(t, 2, target.collections)
	assert.Equal(t, clk.Now(), s.LastFired(SignalCollections))
}

func TestScheduler_EventKinds(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	target := &countingTarget{}
	s := newScheduler(clk, target, nil)
	ctx := context.Background()

	assert.Equal(t, []Signal{SignalCounters}, s.HandlePush(ctx, domain.PushEvent{Type: domain.EventStatsChanged}))
	assert.Nil(t, s.HandlePush(ctx, domain.PushEvent{Type: domain.EventPing}))
	assert.Nil(t, s.HandlePush(ctx, domain.PushEvent{Type: "mystery"}))
	assert.Equal(t, 0, target.collections)
}

func TestScheduler_IgnoresOtherWarehouse(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	target := &countingTarget{}
	s := newScheduler(clk, target, nil)
	ctx := context.Background()
	require.NoError(t, s.SetFilterContext(ctx, domain.Filters{WarehouseID: "w1"}))

	got := s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderCreated, Filters: &domain.Filters{WarehouseID: "w2"}})
	assert.Nil(t, got)
	got = s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderCreated, Filters: &domain.Filters{WarehouseID: "w1"}})
	assert.Len(t, got, 2)
}

func TestScheduler_ManualBypassesSpacingAndRestartsIt(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)}
	target := &countingTarget{}
	s := newScheduler(clk, target, nil)
	ctx := context.Background()

	s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderUpdated})
	clk.Advance(100 * time.Millisecond)
	require.NoError(t, s.Manual(ctx, SignalCollections))
	assert.Equal(t, 2, target.collections)

	clk.Advance(900 * time.Millisecond)
	assert.Equal(t, []Signal{SignalCounters}, s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderUpdated}))
	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, []Signal{SignalCollections}, s.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderUpdated}))
}

func TestScheduler_ManualReportsError(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	target := &countingTarget{err: errors.New("down")}
	s := newScheduler(clk, target, nil)
	assert.Error(t, s.Manual(context.Background(), SignalCounters))
}

func TestScheduler_ReconnectDefersWithoutFilters(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	sub := &fakeSubscriber{}
	s := newScheduler(clk, &countingTarget{}, sub)
	ctx := context.Background()

	require.NoError(t, s.OnReconnect(ctx))
	assert.Empty(t, sub.calls)
	assert.True(t, s.ResubscribePending())

	f := domain.Filters{WarehouseID: "w9"}
	require.NoError(t, s.SetFilterContext(ctx, f))
	require.Len(t, sub.calls, 1)
	assert.Equal(t, f, sub.calls[0])
	assert.False(t, s.ResubscribePending())

	require.NoError(t, s.OnReconnect(ctx))
	assert.Len(t, sub.calls, 2)
}

func TestScheduler_FailedResubscribeStaysPending(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	sub := &fakeSubscriber{err: errors.New("channel closed")}
	s := newScheduler(clk, &countingTarget{}, sub)
	ctx := context.Background()
	require.NoError(t, s.SetFilterContext(ctx, domain.Filters{}))

	assert.Error(t, s.OnReconnect(ctx))
	assert.True(t, s.ResubscribePending())
}

func TestScheduler_ActivateSubscribesImmediately(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	sub := &fakeSubscriber{}
	s := newScheduler(clk, &countingTarget{}, sub)

	require.NoError(t, s.Activate(context.Background(), domain.Filters{WarehouseID: "w1"}))
	require.Len(t, sub.calls, 1)
	assert.Equal(t, "w1", sub.calls[0].WarehouseID)
	assert.False(t, s.ResubscribePending())
}
