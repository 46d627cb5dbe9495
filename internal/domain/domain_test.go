package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFiltersKey_StatusOrderDoesNotMatter(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("reversed statuses give the same key", prop.ForAll(
		func(list []Status, wh string) bool {
			rev := make([]Status, len(list))
			for i, s := range list {
				rev[len(list)-1-i] = s
			}
			a := Filters{WarehouseID: wh, Statuses: list}
			b := Filters{WarehouseID: wh, Statuses: rev}
			return a.Key() == b.Key()
		},
		gen.SliceOf(gen.IntRange(0, len(AllStatuses)-1)).Map(func(idx []int) []Status {
			out := make([]Status, len(idx))
			for i, n := range idx {
				out[i] = AllStatuses[n]
			}
			return out
		}),
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}

func TestFiltersKey(t *testing.T) {
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	assert.True(t, Filters{}.IsZero())
	assert.False(t, Filters{PriorityOnly: true}.IsZero())
	assert.NotEqual(t, Filters{WarehouseID: "w1"}.Key(), Filters{DistrictID: "w1"}.Key())
	assert.Equal(t, Filters{From: day}.Key(), Filters{From: day.UTC()}.Key())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("parse: %w", ErrUnauthorized), KindUnauthorized},
		{ErrStateConflict, KindConflict},
		{fmt.Errorf("x: %w", ErrIllegalTransition), KindConflict},
		{ErrNotFound, KindConflict},
		{errors.New("connection reset"), KindTransport},
		{ErrBusy, KindTransport},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
	assert.True(t, Retryable(errors.New("timeout")))
	assert.False(t, Retryable(ErrStateConflict))

	res := Fail(fmt.Errorf("%w: expired", ErrUnauthorized))
	assert.False(t, res.Success)
	assert.True(t, res.Silent)
	assert.False(t, Fail(ErrStateConflict).Silent)
	assert.Empty(t, OK().Message())
}

func TestActorEffectiveRole(t *testing.T) {
	assert.Equal(t, RolePicker, Actor{Role: RolePicker}.EffectiveRole())
	assert.Equal(t, RoleManager, Actor{Role: RoleCourier, Privileged: true}.EffectiveRole())
	assert.Equal(t, RoleAdmin, Actor{Role: RoleAdmin, Privileged: true}.EffectiveRole())
}

func TestValidity(t *testing.T) {
	assert.True(t, RolePacker.IsValid())
	assert.False(t, Role("CHEF").IsValid())
	assert.True(t, StatusWaitingStock.IsValid())
	assert.False(t, Status("COOKING").IsValid())
	assert.True(t, CollectionStats.IsValid())
	assert.False(t, Collection("orders").IsValid())
	assert.True(t, Pagination{Page: 1, Pages: 2}.HasMore())
	assert.False(t, Pagination{Page: 2, Pages: 2}.HasMore())
}
