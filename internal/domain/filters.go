package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filters describe a view over a collection. The zero value matches everything.
type Filters struct {
	Role         Role      `json:"role,omitempty"`
	WarehouseID  string    `json:"warehouse_id,omitempty"`
	DistrictID   string    `json:"district_id,omitempty"`
	Statuses     []Status  `json:"statuses,omitempty"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	AssignedToID string    `json:"assigned_to_id,omitempty"`
	PriorityOnly bool      `json:"priority_only,omitempty"`
}

// Key is a deterministic identity of the filter context; two filters with the
// same key select the same rows.
func (f Filters) Key() string {
	st := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		st = append(st, string(s))
	}
	sort.Strings(st)
	var from, to string
	if !f.From.IsZero() {
		from = f.From.UTC().Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		to = f.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("role=%s|wh=%s|district=%s|statuses=%s|from=%s|to=%s|assignee=%s|prio=%t",
		f.Role, f.WarehouseID, f.DistrictID, strings.Join(st, ","), from, to, f.AssignedToID, f.PriorityOnly)
}

func (f Filters) IsZero() bool { return f.Key() == Filters{}.Key() }
