package ordersync

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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type fakeAPI struct {
	mu         sync.Mutex
	pages      map[domain.Collection][]domain.Page
	fetchCalls map[domain.Collection]int
	statsCalls int
	fetchErr   error
	actionErr  error
	actions    []domain.ActionRequest
	onFetch    func(c domain.Collection, req domain.PageRequest) *domain.Page
	onAction   func(req domain.ActionRequest)
	actionFn   func(req domain.ActionRequest) error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:      make(map[domain.Collection][]domain.Page),
		fetchCalls: make(map[domain.Collection]int),
	}
}

func (f *fakeAPI) FetchOrders(_ context.Context, c domain.Collection, req domain.PageRequest) (domain.Page, error) {
	f.mu.Lock()
	f.fetchCalls[c]++
	err := f.fetchErr
	hook := f.onFetch
	pages := f.pages[c]
	f.mu.Unlock()

	if err != nil {
		return domain.Page{}, err
	}
	if hook != nil {
		if p := hook(c, req); p != nil {
			return *p, nil
		}
	}
	if req.Page-1 < len(pages) {
		return pages[req.Page-1], nil
	}
	return domain.Page{Pagination: domain.Pagination{Page: req.Page, Pages: len(pages)}}, nil
}

func (f *fakeAPI) FetchStats(context.Context, domain.PageRequest) (domain.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if f.fetchErr != nil {
		return domain.Stats{}, f.fetchErr
	}
	return domain.Stats{Total: 3, ByStatus: map[domain.Status]int{domain.StatusPending: 3}}, nil
}

func (f *fakeAPI) action(req domain.ActionRequest) error {
	f.mu.Lock()
	f.actions = append(f.actions, req)
	hook := f.onAction
	fn := f.actionFn
	err := f.actionErr
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	if fn != nil {
		return fn(req)
	}
	return err
}

func (f *fakeAPI) Take(_ context.Context, req domain.ActionRequest) error    { return f.action(req) }
func (f *fakeAPI) Release(_ context.Context, req domain.ActionRequest) error { return f.action(req) }
func (f *fakeAPI) AdvanceStatus(_ context.Context, req domain.ActionRequest) error {
	return f.action(req)
}
func (f *fakeAPI) Cancel(_ context.Context, req domain.ActionRequest) error { return f.action(req) }

func (f *fakeAPI) calls(c domain.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[c]
}

type fakeIdentity struct {
	actor domain.Actor
	err   error
}

func (f *fakeIdentity) Actor(context.Context) (domain.Actor, error) { return f.actor, f.err }

type fakeTransport struct {
	mu         sync.Mutex
	subscribed []domain.Filters
}

func (f *fakeTransport) Subscribe(_ context.Context, filters domain.Filters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, filters)
	return nil
}
func (f *fakeTransport) Unsubscribe(context.Context) error    { return nil }
func (f *fakeTransport) IsConnected() bool                    { return true }
func (f *fakeTransport) ForceReconnect(context.Context) error { return nil }

var (
	picker  = domain.Actor{ID: "emp-picker", Name: "Петров П.", Role: domain.RolePicker}
	packer  = domain.Actor{ID: "emp-packer", Name: "Иванов И.", Role: domain.RolePacker}
	courier = domain.Actor{ID: "emp-courier", Name: "Сидоров С.", Role: domain.RoleCourier}
)

func onePage(orders ...domain.Order) []domain.Page {
	return []domain.Page{{Orders: orders, Pagination: domain.Pagination{Page: 1, Pages: 1, Total: len(orders)}}}
}

func newCore(t *testing.T, api *fakeAPI, actor domain.Actor) (*Core, *fakeClock, *fakeIdentity) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	id := &fakeIdentity{actor: actor}
	c := New(Config{Now: clk.Now}, api, &fakeTransport{}, id, logger.NewWithWriter("test", io.Discard))
	return c, clk, id
}

func TestCore_FetchWithinTTLHitsNetworkOnce(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, clk, _ := newCore(t, api, picker)
	ctx := context.Background()

	require.True(t, c.LoadInitial(ctx).Success)
	clk.Advance(time.Minute)
	require.True(t, c.LoadInitial(ctx).Success)
	assert.Equal(t, 1, api.calls(domain.CollectionAvailableOrders))
	assert.Equal(t, 1, api.statsCalls)

	clk.Advance(2 * time.Minute)
	require.True(t, c.LoadInitial(ctx).Success)
	assert.Equal(t, 2, api.calls(domain.CollectionAvailableOrders))
}

func TestCore_EmptyCollectionAlwaysFetches(t *testing.T) {
	api := newFakeAPI()
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()

	require.True(t, c.LoadInitial(ctx).Success)
	require.True(t, c.LoadInitial(ctx).Success)
	assert.Equal(t, 2, api.calls(domain.CollectionMyOrders))
}

func TestCore_TakeSuccessPatchesWithoutRefetch(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)
	before := api.calls(domain.CollectionAvailableOrders)

	res := c.Take(ctx, "o1", "")
	require.True(t, res.Success, res.Message())

	ord, ok := c.Order("o1")
	require.True(t, ok)
	require.NotNil(t, ord.AssignedToID)
	assert.Equal(t, picker.ID, *ord.AssignedToID)
	assert.Equal(t, domain.StatusPicking, ord.Status)
	require.Len(t, ord.StatusHistory, 1)
	assert.Equal(t, "Сборка начата. Обработано сотрудником Петров П. (Сборщик)", ord.StatusHistory[0].Comment)

	la, ok := c.LocalAction("o1")
	require.True(t, ok)
	assert.True(t, la.Taken)
	assert.True(t, la.Confirmed)
	assert.Equal(t, before, api.calls(domain.CollectionAvailableOrders))

	require.Len(t, api.actions, 1)
	assert.Equal(t, domain.StatusPicking, api.actions[0].TargetStatus)
	assert.Equal(t, picker, api.actions[0].Actor)
}

func TestCore_FailedActionLeavesNoOverlay(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	api.actionErr = domain.ErrStateConflict
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	var sawOverlay bool
	api.onAction = func(domain.ActionRequest) {
		_, sawOverlay = c.LocalAction("o1")
	}

	res := c.Take(ctx, "o1", "")
	assert.False(t, res.Success)
	assert.False(t, res.Silent)
	assert.ErrorIs(t, res.Err, domain.ErrStateConflict)
	assert.True(t, sawOverlay)

	_, ok := c.LocalAction("o1")
	assert.False(t, ok)
	ord, _ := c.Order("o1")
	assert.Nil(t, ord.AssignedToID)
	assert.Equal(t, domain.StatusPending, ord.Status)
	assert.False(t, c.State().Fresh[domain.CollectionAvailableOrders])
}

func TestCore_IllegalActionNeverReachesServer(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionStaffOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusDelivered})
	c, _, _ := newCore(t, api, packer)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	res := c.Cancel(ctx, "o1", "")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrIllegalTransition)
	assert.Empty(t, api.actions)

	res = c.Take(ctx, "missing", "")
	assert.ErrorIs(t, res.Err, domain.ErrNotFound)
}

func TestCore_UnauthorizedIsSilent(t *testing.T) {
	api := newFakeAPI()
	c, _, id := newCore(t, api, picker)
	id.err = domain.ErrUnauthorized

	res := c.Take(context.Background(), "o1", "")
	assert.False(t, res.Success)
	assert.True(t, res.Silent)
}

func TestCore_PackerTakeAndCompleteScenario(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{
		ID:     "O",
		Status: domain.StatusConfirmed,
		StatusHistory: []domain.StatusEvent{
			{Status: domain.StatusConfirmed, Comment: "Сборка завершена. Обработано сотрудником Петров П. (Сборщик)",
				CreatedAt: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)},
		},
	})
	c, clk, _ := newCore(t, api, packer)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	var during domain.Order
	var pendingSteps []domain.ProcessingStep
	api.onAction = func(domain.ActionRequest) {
		during, _ = c.Order("O")
		pendingSteps, _ = c.History("O")
	}
	require.True(t, c.Take(ctx, "O", "").Success)

	require.NotNil(t, during.AssignedToID)
	assert.Equal(t, packer.ID, *during.AssignedToID)
	require.NotEmpty(t, pendingSteps)
	assert.Equal(t, domain.RolePacker, pendingSteps[0].Role)
	assert.Equal(t, domain.StepStarted, pendingSteps[0].StepType)

	ord, _ := c.Order("O")
	require.NotNil(t, ord.AssignedToID)
	assert.Equal(t, packer.ID, *ord.AssignedToID)

	clk.Advance(10 * time.Minute)
	api.onAction = nil
	comment := "Упаковка завершена. Обработано сотрудником Иванов И. (Упаковщик)"
	require.True(t, c.Advance(ctx, "O", domain.StatusPackingCompleted, comment).Success)

	ord, _ = c.Order("O")
	last := ord.StatusHistory[len(ord.StatusHistory)-1]
	assert.Equal(t, domain.StatusPackingCompleted, last.Status)
	assert.Equal(t, comment, last.Comment)

	steps, ok := c.History("O")
	require.True(t, ok)
	var found bool
	for _, s := range steps {
		if s.Role == domain.RolePacker && s.StepType == domain.StepCompleted {
			found = true
			assert.Equal(t, "Иванов И.", s.EmployeeName)
			assert.Equal(t, "Упаковщик", s.EmployeePosition)
			assert.False(t, s.IsVirtual)
		}
	}
	assert.True(t, found)
}

func TestCore_StaleResponseIsDropped(t *testing.T) {
	api := newFakeAPI()
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()

	var once sync.Once
	api.onFetch = func(col domain.Collection, req domain.PageRequest) *domain.Page {
		if col != domain.CollectionMyOrders {
			return nil
		}
		if req.Filters.WarehouseID == "new" {
			p := onePage(domain.Order{ID: "fresh", WarehouseID: "new"})[0]
			return &p
		}
		once.Do(func() {
			// a filter switch lands while the first request is still out
			c.ToggleFilterView(ctx, domain.Filters{WarehouseID: "new"})
		})
		p := onePage(domain.Order{ID: "stale", WarehouseID: "old"})[0]
		return &p
	}

	c.LoadInitial(ctx)
	orders := c.Orders(domain.CollectionMyOrders)
	require.Len(t, orders, 1)
	assert.Equal(t, "fresh", orders[0].ID)
}

func TestCore_FlagsClearedOnError(t *testing.T) {
	api := newFakeAPI()
	api.fetchErr = errors.New("connection reset")
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()

	res := c.LoadInitial(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindTransport, domain.ClassifyError(res.Err))

	res = c.Refresh(ctx, domain.CollectionMyOrders)
	assert.False(t, res.Success)

	st := c.State()
	assert.False(t, st.Initializing)
	for _, name := range domain.OrderCollections {
		assert.False(t, c.Loading(name), name)
		assert.False(t, c.Refreshing(name), name)
	}
}

func TestCore_FailedRefreshKeepsStaleData(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionMyOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	api.fetchErr = errors.New("timeout")
	assert.False(t, c.Refresh(ctx, domain.CollectionMyOrders).Success)
	assert.Len(t, c.Orders(domain.CollectionMyOrders), 1)
	assert.True(t, c.State().Fresh[domain.CollectionMyOrders])
}

func TestCore_PushBurstIsSpaced(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionMyOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, clk, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)
	base := api.calls(domain.CollectionMyOrders)
	baseStats := api.statsCalls

	for i := 0; i < 10; i++ {
		c.HandlePush(ctx, domain.PushEvent{Type: domain.EventOrderStatusChanged, OrderID: "o1"})
		clk.Advance(20 * time.Millisecond)
	}
	assert.Equal(t, base+1, api.calls(domain.CollectionMyOrders))
	assert.Equal(t, baseStats+1, api.statsCalls)
}

func TestCore_AutoLoadStopsOnEmptyPages(t *testing.T) {
	api := newFakeAPI()
	var pages []domain.Page
	for i := 1; i <= 10; i++ {
		pages = append(pages, domain.Page{
			Orders:     []domain.Order{{ID: "x", Status: domain.StatusDelivered}},
			Pagination: domain.Pagination{Page: i, Pages: 10, Total: 10},
		})
	}
	api.pages[domain.CollectionAvailableOrders] = pages
	clk := &fakeClock{t: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	c := New(Config{Now: clk.Now, Filters: domain.Filters{Role: domain.RolePicker}}, api, nil,
		&fakeIdentity{actor: picker}, nil)

	require.True(t, c.LoadInitial(context.Background()).Success)
	assert.Equal(t, 4, api.calls(domain.CollectionAvailableOrders))
	assert.True(t, c.State().Halted[domain.CollectionAvailableOrders])
	assert.Empty(t, c.Orders(domain.CollectionAvailableOrders))
}

func TestCore_ToggleFilterViewClearsAndResubscribes(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionMyOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending, WarehouseID: "w1"})
	tr := &fakeTransport{}
	clk := &fakeClock{t: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)}
	c := New(Config{Now: clk.Now}, api, tr, &fakeIdentity{actor: picker}, nil)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	require.True(t, c.ToggleFilterView(ctx, domain.Filters{WarehouseID: "w2"}).Success)
	assert.Empty(t, c.Orders(domain.CollectionMyOrders))
	assert.Equal(t, 2, api.calls(domain.CollectionMyOrders))
	require.Len(t, tr.subscribed, 2)
	assert.Equal(t, "w2", tr.subscribed[1].WarehouseID)
}

func TestCore_AvailableStatuses(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionMyOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPacking})
	c, _, _ := newCore(t, api, packer)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	got, err := c.AvailableStatuses(ctx, "o1")
	require.NoError(t, err)
	assert.Contains(t, got, domain.StatusPackingCompleted)
	assert.Contains(t, got, domain.StatusCancelled)

	_, err = c.AvailableStatuses(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCore_RefreshInFlightDuringTakeKeepsTheTake(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	api.mu.Lock()
	api.onFetch = func(name domain.Collection, _ domain.PageRequest) *domain.Page {
		if name == domain.CollectionAvailableOrders {
			once.Do(func() {
				close(started)
				<-release
			})
		}
		return nil
	}
	api.mu.Unlock()

	done := make(chan domain.Result)
	go func() { done <- c.Refresh(ctx, domain.CollectionAvailableOrders) }()
	<-started

	require.True(t, c.Take(ctx, "o1", "").Success)
	close(release)
	require.True(t, (<-done).Success)

	// the response was read before the take, so it must not undo it
	ord, ok := c.Order("o1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPicking, ord.Status)
	require.NotNil(t, ord.AssignedToID)
	assert.Equal(t, picker.ID, *ord.AssignedToID)
	_, ok = c.LocalAction("o1")
	assert.True(t, ok)

	// a read issued after the confirmation settles it
	assigned := picker.ID
	api.mu.Lock()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPicking, AssignedToID: &assigned})
	api.mu.Unlock()
	require.True(t, c.Refresh(ctx, domain.CollectionAvailableOrders).Success)
	_, ok = c.LocalAction("o1")
	assert.False(t, ok)
	ord, _ = c.Order("o1")
	assert.Equal(t, domain.StatusPicking, ord.Status)
}

func TestCore_AdvanceHandoffClearsAssignee(t *testing.T) {
	api := newFakeAPI()
	assigned := picker.ID
	api.pages[domain.CollectionMyOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPicking, AssignedToID: &assigned})
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	res := c.Advance(ctx, "o1", "", "")
	require.True(t, res.Success, res.Message())

	ord, ok := c.Order("o1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusConfirmed, ord.Status)
	assert.Nil(t, ord.AssignedToID)

	cached, ok := c.cache.Find("o1")
	require.True(t, ok)
	assert.Nil(t, cached.AssignedToID)
}

func TestCore_FailedEarlierActionKeepsLaterIntent(t *testing.T) {
	api := newFakeAPI()
	api.pages[domain.CollectionAvailableOrders] = onePage(domain.Order{ID: "o1", Status: domain.StatusPending})
	c, _, _ := newCore(t, api, picker)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	entered := make(chan struct{})
	gates := map[domain.ActionKind]chan error{
		domain.ActionTake:    make(chan error),
		domain.ActionRelease: make(chan error),
	}
	api.mu.Lock()
	api.actionFn = func(req domain.ActionRequest) error {
		entered <- struct{}{}
		return <-gates[req.Kind]
	}
	api.mu.Unlock()

	takeRes := make(chan domain.Result)
	go func() { takeRes <- c.Take(ctx, "o1", "") }()
	<-entered

	releaseRes := make(chan domain.Result)
	go func() { releaseRes <- c.Release(ctx, "o1", "") }()
	<-entered

	gates[domain.ActionTake] <- errors.New("gateway timeout")
	assert.False(t, (<-takeRes).Success)

	la, ok := c.LocalAction("o1")
	require.True(t, ok, "release intent must survive the failed take")
	assert.True(t, la.Released)
	steps, ok := c.History("o1")
	require.True(t, ok)
	require.NotEmpty(t, steps)
	assert.Equal(t, domain.StepReleased, steps[0].StepType)

	gates[domain.ActionRelease] <- nil
	require.True(t, (<-releaseRes).Success)
	la, ok = c.LocalAction("o1")
	require.True(t, ok)
	assert.True(t, la.Confirmed)
}

func TestCore_CourierCannotTakeSomeoneElsesDelivery(t *testing.T) {
	api := newFakeAPI()
	other := "emp-other"
	api.pages[domain.CollectionStaffOrders] = onePage(
		domain.Order{ID: "o1", Status: domain.StatusInDelivery, AssignedToID: &other},
		domain.Order{ID: "o2", Status: domain.StatusInDelivery},
	)
	c, _, _ := newCore(t, api, courier)
	ctx := context.Background()
	require.True(t, c.LoadInitial(ctx).Success)

	res := c.Take(ctx, "o1", "")
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrStateConflict)
	assert.Empty(t, api.actions)

	res = c.Take(ctx, "o2", "")
	require.True(t, res.Success, res.Message())
	ord, _ := c.Order("o2")
	assert.Equal(t, domain.StatusInDelivery, ord.Status)
	require.NotNil(t, ord.AssignedToID)
	assert.Equal(t, courier.ID, *ord.AssignedToID)
}
