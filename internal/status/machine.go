// Package status holds the order status machine: legal transitions per role,
// terminal states and display labels.
package status

import (
	"fmt"

	"fulfillment-sync/internal/domain"
)

// forward[role][from] = to
var forward = map[domain.Role]map[domain.Status]domain.Status{
	domain.RolePicker: {
		domain.StatusPending: domain.StatusPicking,
		domain.StatusPicking: domain.StatusConfirmed,
	},
	domain.RolePacker: {
		domain.StatusConfirmed:        domain.StatusPacking,
		domain.StatusPacking:          domain.StatusPackingCompleted,
		domain.StatusPackingCompleted: domain.StatusInDelivery,
	},
	domain.RoleCourier: {
		domain.StatusInDelivery: domain.StatusDelivered,
	},
}

// owned lists the stages a staff role is working on; only from these may a
// non-privileged actor escape to CANCELLED or WAITING_STOCK.
var owned = map[domain.Role][]domain.Status{
	domain.RolePicker:  {domain.StatusPicking},
	domain.RolePacker:  {domain.StatusPacking, domain.StatusPackingCompleted},
	domain.RoleCourier: {domain.StatusInDelivery},
}

var escapes = []domain.Status{domain.StatusCancelled, domain.StatusWaitingStock}

var labels = map[domain.Status]string{
	domain.StatusPending:          "Ожидает сборки",
	domain.StatusPicking:          "Сборка",
	domain.StatusConfirmed:        "Собран",
	domain.StatusPacking:          "Упаковка",
	domain.StatusPackingCompleted: "Упакован",
	domain.StatusInDelivery:       "В доставке",
	domain.StatusDelivered:        "Доставлен",
	domain.StatusCancelled:        "Отменён",
	domain.StatusWaitingStock:     "Ожидание товара",
}

var roleLabels = map[domain.Role]string{
	domain.RolePicker:  "Сборщик",
	domain.RolePacker:  "Упаковщик",
	domain.RoleCourier: "Курьер",
	domain.RoleManager: "Менеджер",
	domain.RoleAdmin:   "Администратор",
}

func IsTerminal(s domain.Status) bool {
	return s == domain.StatusDelivered || s == domain.StatusCancelled
}

// AvailableStatuses returns the statuses the role may move an order to. An
// empty result means "no action" and is not an error.
func AvailableStatuses(current domain.Status, role domain.Role) []domain.Status {
	if !current.IsValid() {
		return nil
	}
	if role.Privileged() {
		out := make([]domain.Status, 0, len(domain.AllStatuses)-1)
		for _, s := range domain.AllStatuses {
			if s != current {
				out = append(out, s)
			}
		}
		return out
	}
	if IsTerminal(current) {
		return nil
	}

	var out []domain.Status
	if next, ok := forward[role][current]; ok {
		out = append(out, next)
	}
	if Owns(role, current) {
		out = append(out, escapes...)
	}
	return out
}

// CanTransition reports whether role may move an order from -> to.
func CanTransition(from, to domain.Status, role domain.Role) bool {
	for _, s := range AvailableStatuses(from, role) {
		if s == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to domain.Status, role domain.Role) error {
	if !CanTransition(from, to, role) {
		return fmt.Errorf("%w: %s -> %s for %s", domain.ErrIllegalTransition, from, to, role)
	}
	return nil
}

// Owns reports whether s is a stage the role is currently working on.
func Owns(role domain.Role, s domain.Status) bool {
	for _, v := range owned[role] {
		if v == s {
			return true
		}
	}
	return false
}

// StagesFor lists every status in which the role has something to do,
// in canonical order. Privileged roles see everything.
func StagesFor(role domain.Role) []domain.Status {
	if role.Privileged() || role == "" {
		return append([]domain.Status(nil), domain.AllStatuses...)
	}
	var out []domain.Status
	for _, s := range domain.AllStatuses {
		if _, ok := forward[role][s]; ok || Owns(role, s) {
			out = append(out, s)
		}
	}
	return out
}

type handoff struct{ from, start domain.Status }

// A take assigns the order and moves it into the role's working stage. The
// courier stage starts when the packer hands the order over, so a courier take
// only assigns.
var takes = map[domain.Role]handoff{
	domain.RolePicker:  {from: domain.StatusPending, start: domain.StatusPicking},
	domain.RolePacker:  {from: domain.StatusConfirmed, start: domain.StatusPacking},
	domain.RoleCourier: {from: domain.StatusInDelivery, start: domain.StatusInDelivery},
}

// TakeableFrom is the status an order must be in for the role to take it.
func TakeableFrom(role domain.Role) (domain.Status, bool) {
	h, ok := takes[role]
	return h.from, ok
}

// StartStatus is where a take moves the order to.
func StartStatus(role domain.Role) (domain.Status, bool) {
	h, ok := takes[role]
	return h.start, ok
}

// ReleaseTarget is where an order falls back to when the role releases it.
func ReleaseTarget(role domain.Role) (domain.Status, bool) {
	return TakeableFrom(role)
}

// RoleForStatus returns the staff role working the order in status s.
func RoleForStatus(s domain.Status) (domain.Role, bool) {
	for _, r := range domain.StaffRoles {
		if Owns(r, s) {
			return r, true
		}
	}
	return "", false
}

func Label(s domain.Status) string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

func RoleLabel(r domain.Role) string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// RoleByLabel is the reverse of RoleLabel for staff positions.
func RoleByLabel(label string) (domain.Role, bool) {
	for _, r := range domain.StaffRoles {
		if roleLabels[r] == label {
			return r, true
		}
	}
	return "", false
}
