package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment-sync/internal/domain"
)

var picker = domain.Actor{ID: "a", Role: domain.RolePicker}

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestOverlay_ApplyTake(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	o.Begin(domain.ActionTake, "o1", domain.Actor{ID: "packer-7", Role: domain.RolePacker}, domain.StatusPacking)

	orders := []domain.Order{{ID: "o1", Status: domain.StatusConfirmed}, {ID: "o2", Status: domain.StatusPending}}
	got := o.Apply(orders)

	require.Len(t, got, 2)
	require.NotNil(t, got[0].AssignedToID)
	assert.Equal(t, "packer-7", *got[0].AssignedToID)
	assert.Equal(t, domain.StatusPacking, got[0].Status)
	assert.Nil(t, got[1].AssignedToID)
	// source is untouched
	assert.Nil(t, orders[0].AssignedToID)

	a, ok := o.Get("o1")
	require.True(t, ok)
	assert.True(t, a.Taken)
	assert.Equal(t, fixedNow(), a.Timestamp)
}

func TestOverlay_LaterActionOverwrites(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	o.Begin(domain.ActionTake, "o1", picker, "")
	o.Begin(domain.ActionRelease, "o1", picker, "")

	a, ok := o.Get("o1")
	require.True(t, ok)
	assert.False(t, a.Taken)
	assert.True(t, a.Released)
	assert.Equal(t, 1, o.Len())
}

func TestOverlay_NeverContradictsTerminalServerStatus(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	o.Begin(domain.ActionAdvance, "o1", domain.Actor{ID: "c", Role: domain.RoleCourier}, domain.StatusInDelivery)

	got := o.Apply([]domain.Order{{ID: "o1", Status: domain.StatusCancelled}})
	assert.Equal(t, domain.StatusCancelled, got[0].Status)

	o.Reconcile([]domain.Order{{ID: "o1", Status: domain.StatusCancelled}}, 0)
	_, ok := o.Get("o1")
	assert.False(t, ok)
}

func TestOverlay_ReconcileDropsOnlyConfirmed(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	a1 := o.Begin(domain.ActionTake, "o1", picker, "")
	o.Begin(domain.ActionTake, "o2", picker, "")
	require.True(t, o.Confirm(a1))

	o.Reconcile([]domain.Order{{ID: "o1", Status: domain.StatusPicking}, {ID: "o2", Status: domain.StatusPending}}, o.Mark())

	_, ok := o.Get("o1")
	assert.False(t, ok)
	_, ok = o.Get("o2")
	assert.True(t, ok)
}

func TestOverlay_Clear(t *testing.T) {
	t.Parallel()

	o := New(nil)
	o.Begin(domain.ActionCancel, "o1", picker, domain.StatusCancelled)
	o.Clear("o1")
	assert.Equal(t, 0, o.Len())
}

func TestOverlay_ResponseIssuedBeforeConfirmKeepsEntry(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	before := o.Mark()
	a := o.Begin(domain.ActionTake, "o1", picker, domain.StatusPicking)
	require.True(t, o.Confirm(a))

	stale := []domain.Order{{ID: "o1", Status: domain.StatusPending}}
	o.Reconcile(stale, before)

	got := o.Apply(stale)
	assert.Equal(t, domain.StatusPicking, got[0].Status)
	require.NotNil(t, got[0].AssignedToID)
	assert.Equal(t, "a", *got[0].AssignedToID)

	o.Reconcile([]domain.Order{{ID: "o1", Status: domain.StatusPicking}}, o.Mark())
	assert.Equal(t, 0, o.Len())
}

func TestOverlay_LaterActionOwnsTheEntry(t *testing.T) {
	t.Parallel()

	o := New(fixedNow)
	first := o.Begin(domain.ActionTake, "o1", picker, domain.StatusPicking)
	second := o.Begin(domain.ActionRelease, "o1", picker, domain.StatusPending)

	assert.False(t, o.Drop(first))
	assert.False(t, o.Confirm(first))
	got, ok := o.Get("o1")
	require.True(t, ok)
	assert.Equal(t, second.Seq, got.Seq)
	assert.False(t, got.Confirmed)

	assert.True(t, o.Drop(second))
	assert.Equal(t, 0, o.Len())
}

func TestPatch_HandoffClearsAssignee(t *testing.T) {
	t.Parallel()

	id := "a"
	tests := []struct {
		name   string
		role   domain.Role
		target domain.Status
		keep   bool
	}{
		{"picker hands to packer", domain.RolePicker, domain.StatusConfirmed, false},
		{"packer stays in own stage", domain.RolePacker, domain.StatusPackingCompleted, true},
		{"packer hands to courier", domain.RolePacker, domain.StatusInDelivery, false},
		{"courier delivers", domain.RoleCourier, domain.StatusDelivered, true},
		{"cancel keeps assignee", domain.RolePicker, domain.StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ord := domain.Order{ID: "o1", AssignedToID: &id}
			Patch(&ord, domain.LocalOrderAction{Completed: true, ActorID: id, ActorRole: tt.role, TargetStatus: tt.target})
			assert.Equal(t, tt.target, ord.Status)
			if tt.keep {
				assert.NotNil(t, ord.AssignedToID)
			} else {
				assert.Nil(t, ord.AssignedToID)
			}
		})
	}
}
