package agent

import (
	"context"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/ordersync"
)

// Publisher announces order events to other agents.
type Publisher interface {
	Publish(ctx context.Context, warehouseID string, ev domain.PushEvent) error
}

// publishingAPI announces every successful action so other agents refresh.
// A failed announcement does not fail the action.
type publishingAPI struct {
	ordersync.API
	pub         Publisher
	warehouseID string
	lg          *logger.Logger
}

func withPublisher(api ordersync.API, pub Publisher, warehouseID string, lg *logger.Logger) ordersync.API {
	if pub == nil {
		return api
	}
	return &publishingAPI{API: api, pub: pub, warehouseID: warehouseID, lg: lg}
}

func (p *publishingAPI) Take(ctx context.Context, req domain.ActionRequest) error {
	return p.after(ctx, req, domain.EventOrderAssigned, p.API.Take(ctx, req))
}

func (p *publishingAPI) Release(ctx context.Context, req domain.ActionRequest) error {
	return p.after(ctx, req, domain.EventOrderAssigned, p.API.Release(ctx, req))
}

func (p *publishingAPI) AdvanceStatus(ctx context.Context, req domain.ActionRequest) error {
	return p.after(ctx, req, domain.EventOrderStatusChanged, p.API.AdvanceStatus(ctx, req))
}

func (p *publishingAPI) Cancel(ctx context.Context, req domain.ActionRequest) error {
	return p.after(ctx, req, domain.EventOrderStatusChanged, p.API.Cancel(ctx, req))
}

func (p *publishingAPI) after(ctx context.Context, req domain.ActionRequest, eventType string, err error) error {
	if err != nil {
		return err
	}
	ev := domain.PushEvent{Type: eventType, OrderID: req.OrderID}
	if perr := p.pub.Publish(ctx, p.warehouseID, ev); perr != nil {
		p.lg.Warn("publish_failed", perr, map[string]any{"order_id": req.OrderID, "type": eventType})
	}
	return nil
}
