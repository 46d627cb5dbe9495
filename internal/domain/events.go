package domain

// Push event types as decoded by the transport.
const (
	EventOrderCreated       = "order_created"
	EventOrderUpdated       = "order_updated"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderAssigned      = "order_assigned"
	EventStatsChanged       = "stats_changed"
	EventPing               = "ping"
)

// PushEvent is a lightweight "something changed" notification. It never
// carries order state; receivers refetch.
type PushEvent struct {
	Type    string   `json:"type"`
	OrderID string   `json:"order_id,omitempty"`
	Filters *Filters `json:"filters,omitempty"`
}
