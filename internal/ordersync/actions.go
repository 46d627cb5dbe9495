package ordersync

import (
	"context"
	"fmt"
	"time"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/history"
	"fulfillment-sync/internal/overlay"
	"fulfillment-sync/internal/status"
)

// Take assigns the order to the current actor and starts their stage.
func (c *Core) Take(ctx context.Context, orderID, comment string) domain.Result {
	return c.act(ctx, domain.ActionRequest{OrderID: orderID, Kind: domain.ActionTake, Comment: comment})
}

// Release hands the order back to the queue it was taken from.
func (c *Core) Release(ctx context.Context, orderID, comment string) domain.Result {
	return c.act(ctx, domain.ActionRequest{OrderID: orderID, Kind: domain.ActionRelease, Comment: comment})
}

// Advance moves the order to target; an empty target means the next status
// of the actor's stage.
func (c *Core) Advance(ctx context.Context, orderID string, target domain.Status, comment string) domain.Result {
	return c.act(ctx, domain.ActionRequest{OrderID: orderID, Kind: domain.ActionAdvance, TargetStatus: target, Comment: comment})
}

func (c *Core) Cancel(ctx context.Context, orderID, comment string) domain.Result {
	return c.act(ctx, domain.ActionRequest{OrderID: orderID, Kind: domain.ActionCancel, TargetStatus: domain.StatusCancelled, Comment: comment})
}

func (c *Core) act(ctx context.Context, req domain.ActionRequest) domain.Result {
	lg := c.requestLogger()
	fields := map[string]any{"order_id": req.OrderID, "action": string(req.Kind)}

	actor, err := c.identity.Actor(ctx)
	if err != nil {
		lg.Warn("action_unauthorized", err, fields)
		return domain.Fail(err)
	}
	req.Actor = actor
	fields["actor_id"] = actor.ID

	ord, ok := c.Order(req.OrderID)
	if !ok {
		err := fmt.Errorf("%w: order %s", domain.ErrNotFound, req.OrderID)
		lg.Warn("action_rejected", err, fields)
		return domain.Fail(err)
	}
	if err := c.prepare(&req, ord); err != nil {
		lg.Warn("action_rejected", err, fields)
		return domain.Fail(err)
	}
	fields["target_status"] = string(req.TargetStatus)

	la := c.overlay.Begin(req.Kind, req.OrderID, actor, req.TargetStatus)
	if step, ok := localStep(req, la.Timestamp); ok {
		c.mu.Lock()
		c.pending[req.OrderID] = pendingStep{seq: la.Seq, step: step}
		c.mu.Unlock()
	}
	// a later action on the same order owns the entry and its step
	defer func() {
		c.mu.Lock()
		if p, ok := c.pending[req.OrderID]; ok && p.seq == la.Seq {
			delete(c.pending, req.OrderID)
		}
		c.mu.Unlock()
	}()

	if err := c.call(ctx, req); err != nil {
		c.overlay.Drop(la)
		if domain.ClassifyError(err) == domain.KindConflict {
			// the server moved on; next reads must go back to it
			for _, name := range domain.OrderCollections {
				c.cache.Invalidate(name)
			}
		}
		lg.Error("action_failed", err, fields)
		return domain.Fail(err)
	}

	if !c.overlay.Confirm(la) {
		lg.Debug("action_superseded", fields)
	}
	now := c.now()
	changedBy := actor.ID
	c.cache.Update(req.OrderID, func(o *domain.Order) {
		overlay.Patch(o, la)
		o.StatusHistory = append(o.StatusHistory, domain.StatusEvent{
			Status:    o.Status,
			Comment:   req.Comment,
			ChangedBy: &changedBy,
			CreatedAt: now,
		})
		o.UpdatedAt = now
	})
	lg.Info("action_done", fields)
	return domain.OK()
}

func (c *Core) call(ctx context.Context, req domain.ActionRequest) error {
	switch req.Kind {
	case domain.ActionTake:
		return c.api.Take(ctx, req)
	case domain.ActionRelease:
		return c.api.Release(ctx, req)
	case domain.ActionAdvance:
		return c.api.AdvanceStatus(ctx, req)
	case domain.ActionCancel:
		return c.api.Cancel(ctx, req)
	}
	return fmt.Errorf("unknown action %q", req.Kind)
}

// prepare checks the action against the status machine, fills in the target
// status and composes the history comment when none was given.
func (c *Core) prepare(req *domain.ActionRequest, ord domain.Order) error {
	actor := req.Actor
	role := actor.EffectiveRole()

	switch req.Kind {
	case domain.ActionTake:
		from, ok := status.TakeableFrom(actor.Role)
		if !ok {
			return fmt.Errorf("%w: %s cannot take orders", domain.ErrIllegalTransition, actor.Role)
		}
		if ord.Status != from {
			return fmt.Errorf("%w: order is %s, take needs %s", domain.ErrIllegalTransition, ord.Status, from)
		}
		if ord.AssignedToID != nil && *ord.AssignedToID != actor.ID {
			return fmt.Errorf("%w: order is assigned to someone else", domain.ErrStateConflict)
		}
		req.TargetStatus, _ = status.StartStatus(actor.Role)
		if req.Comment == "" {
			req.Comment = history.ComposeComment(domain.StepStarted, actor.Role, actor.Name)
		}

	case domain.ActionRelease:
		target, ok := status.ReleaseTarget(actor.Role)
		if !ok {
			return fmt.Errorf("%w: %s cannot release orders", domain.ErrIllegalTransition, actor.Role)
		}
		if ord.AssignedToID == nil || *ord.AssignedToID != actor.ID {
			return fmt.Errorf("%w: order is not assigned to %s", domain.ErrStateConflict, actor.ID)
		}
		if !status.Owns(actor.Role, ord.Status) {
			return fmt.Errorf("%w: %s does not own %s", domain.ErrIllegalTransition, actor.Role, ord.Status)
		}
		req.TargetStatus = target
		if req.Comment == "" {
			req.Comment = history.ComposeComment(domain.StepReleased, actor.Role, actor.Name)
		}

	case domain.ActionAdvance, domain.ActionCancel:
		if req.TargetStatus == "" {
			next, ok := nextStatus(ord.Status, role)
			if !ok {
				return fmt.Errorf("%w: nothing to advance from %s", domain.ErrIllegalTransition, ord.Status)
			}
			req.TargetStatus = next
		}
		if err := status.ValidateTransition(ord.Status, req.TargetStatus, role); err != nil {
			return err
		}
		if req.Comment == "" {
			if step, ok := history.StepFor(req.TargetStatus, actor.Role); ok {
				req.Comment = history.ComposeComment(step, actor.Role, actor.Name)
			} else {
				req.Comment = history.StatusChangeComment(req.TargetStatus, actor.Role, actor.Name)
			}
		}

	default:
		return fmt.Errorf("unknown action %q", req.Kind)
	}
	return nil
}

// nextStatus is the first non-escape status the role can move to.
func nextStatus(current domain.Status, role domain.Role) (domain.Status, bool) {
	for _, s := range status.AvailableStatuses(current, role) {
		if s != domain.StatusCancelled && s != domain.StatusWaitingStock {
			return s, true
		}
	}
	return "", false
}

// localStep is the processing step an unresolved action will produce.
func localStep(req domain.ActionRequest, at time.Time) (domain.ProcessingStep, bool) {
	var stepType domain.StepType
	switch req.Kind {
	case domain.ActionTake:
		stepType = domain.StepStarted
	case domain.ActionRelease:
		stepType = domain.StepReleased
	default:
		st, ok := history.StepFor(req.TargetStatus, req.Actor.Role)
		if !ok {
			return domain.ProcessingStep{}, false
		}
		stepType = st
	}
	return domain.ProcessingStep{
		Role:             req.Actor.Role,
		StepType:         stepType,
		EmployeeName:     req.Actor.Name,
		EmployeePosition: status.RoleLabel(req.Actor.Role),
		Comment:          history.CleanComment(req.Comment),
		CreatedAt:        at,
	}, true
}
