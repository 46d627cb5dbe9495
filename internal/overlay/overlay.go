// Package overlay keeps per-order optimistic mutations that are layered over
// fetched collections until the server state catches up.
package overlay

import (
	"sync"
	"time"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/status"
)

type entry struct {
	domain.LocalOrderAction
	confirmedAt uint64 // seq value when the server confirmed the action
}

type Overlay struct {
	mu      sync.Mutex
	entries map[string]entry
	seq     uint64
	now     func() time.Time
}

func New(now func() time.Time) *Overlay {
	if now == nil {
		now = time.Now
	}
	return &Overlay{entries: make(map[string]entry), now: now}
}

// Begin records intent before the network call. A later Begin on the same
// order overwrites the earlier one; the returned action carries the sequence
// number that owns the entry.
func (o *Overlay) Begin(kind domain.ActionKind, orderID string, actor domain.Actor, target domain.Status) domain.LocalOrderAction {
	a := domain.LocalOrderAction{
		OrderID:      orderID,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		TargetStatus: target,
		Timestamp:    o.now(),
	}
	switch kind {
	case domain.ActionTake:
		a.Taken = true
	case domain.ActionRelease:
		a.Released = true
	case domain.ActionAdvance, domain.ActionCancel:
		a.Completed = true
	}

	o.mu.Lock()
	o.seq++
	a.Seq = o.seq
	o.entries[orderID] = entry{LocalOrderAction: a}
	o.mu.Unlock()
	return a
}

// Mark returns the current sequence number. A fetch records it before the
// request goes out and hands it back to Reconcile.
func (o *Overlay) Mark() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}

// Confirm marks a's entry as server-confirmed. It is a no-op when a later
// action on the same order has taken the entry over.
func (o *Overlay) Confirm(a domain.LocalOrderAction) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[a.OrderID]
	if !ok || e.Seq != a.Seq {
		return false
	}
	o.seq++
	e.Confirmed = true
	e.confirmedAt = o.seq
	o.entries[a.OrderID] = e
	return true
}

// Drop removes a's entry unless a later action owns it.
func (o *Overlay) Drop(a domain.LocalOrderAction) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[a.OrderID]
	if !ok || e.Seq != a.Seq {
		return false
	}
	delete(o.entries, a.OrderID)
	return true
}

func (o *Overlay) Clear(orderID string) {
	o.mu.Lock()
	delete(o.entries, orderID)
	o.mu.Unlock()
}

func (o *Overlay) Get(orderID string) (domain.LocalOrderAction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[orderID]
	return e.LocalOrderAction, ok
}

func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Apply returns copies of orders with pending local actions merged in. Orders
// the server reports as terminal are returned as-is.
func (o *Overlay) Apply(orders []domain.Order) []domain.Order {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.Order, 0, len(orders))
	for _, ord := range orders {
		c := ord.Clone()
		if e, ok := o.entries[ord.ID]; ok && !status.IsTerminal(ord.Status) {
			patch(&c, e.LocalOrderAction)
		}
		out = append(out, c)
	}
	return out
}

// Reconcile is called with server state from a request issued at mark.
// Entries for terminal orders are dropped: the server is final. A confirmed
// entry is dropped only when the request went out after the confirmation;
// an older response cannot reflect it yet.
func (o *Overlay) Reconcile(orders []domain.Order, mark uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ord := range orders {
		e, ok := o.entries[ord.ID]
		if !ok {
			continue
		}
		if status.IsTerminal(ord.Status) || (e.Confirmed && e.confirmedAt <= mark) {
			delete(o.entries, ord.ID)
		}
	}
}

// Patch writes a confirmed action into the authoritative fields of ord.
func Patch(ord *domain.Order, a domain.LocalOrderAction) { patch(ord, a) }

// patch mirrors the server's transition: a move out of the actor's own
// stages into a non-terminal status hands the order over and clears the
// assignee.
func patch(ord *domain.Order, a domain.LocalOrderAction) {
	switch {
	case a.Taken:
		id := a.ActorID
		ord.AssignedToID = &id
	case a.Released:
		ord.AssignedToID = nil
	case a.Completed && a.TargetStatus != "":
		if !status.Owns(a.ActorRole, a.TargetStatus) && !status.IsTerminal(a.TargetStatus) {
			ord.AssignedToID = nil
		}
	}
	if a.TargetStatus != "" {
		ord.Status = a.TargetStatus
	}
}
