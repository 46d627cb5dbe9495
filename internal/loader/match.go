package loader

import (
	"github.com/jinzhu/now"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/status"
)

// Match reports whether the order is visible under f. Date bounds are
// day-granular: From covers its whole day, so does To.
func Match(o domain.Order, f domain.Filters) bool {
	if f.Role != "" && !f.Role.Privileged() && !containsStatus(status.StagesFor(f.Role), o.Status) {
		return false
	}
	if f.WarehouseID != "" && o.WarehouseID != f.WarehouseID {
		return false
	}
	if f.DistrictID != "" && o.DistrictID != f.DistrictID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
		return false
	}
	if f.AssignedToID != "" && (o.AssignedToID == nil || *o.AssignedToID != f.AssignedToID) {
		return false
	}
	if f.PriorityOnly && !o.Priority {
		return false
	}
	if !f.From.IsZero() && o.CreatedAt.Before(now.With(f.From).BeginningOfDay()) {
		return false
	}
	if !f.To.IsZero() && o.CreatedAt.After(now.With(f.To).EndOfDay()) {
		return false
	}
	return true
}

// Filter keeps the orders matching f, preserving order.
func Filter(orders []domain.Order, f domain.Filters) []domain.Order {
	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if Match(o, f) {
			out = append(out, o)
		}
	}
	return out
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
