// Package history turns an order's free-text status log into structured
// processing steps. It is pure and never fails: unparseable entries degrade to
// status defaults or are dropped.
package history

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/status"
)

type employee struct {
	name     string
	position string
}

// roleMemo remembers the latest named employee per role during one pass.
type roleMemo map[domain.Role]employee

var spaces = regexp.MustCompile(`\s+`)

// Reconstruct derives processing steps from statusHistory. Identical input
// always yields identical output.
func Reconstruct(events []domain.StatusEvent) []domain.ProcessingStep {
	sorted := append([]domain.StatusEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	memo := roleMemo{}
	steps := make([]domain.ProcessingStep, 0, len(sorted))
	for _, ev := range sorted {
		comment := CleanComment(ev.Comment)
		emp := extractEmployee(comment)

		role, stepType, ok := classify(ev.Status, comment, emp.position)
		if !ok {
			continue
		}

		if r, ok := status.RoleByLabel(emp.position); ok && r != role {
			// someone from another stage wrote this entry (handoff)
			emp = employee{}
		}
		if emp.name == "" {
			emp = memo[role]
		} else {
			if emp.position == "" {
				emp.position = status.RoleLabel(role)
			}
			memo[role] = emp
		}

		steps = append(steps, domain.ProcessingStep{
			Role:             role,
			StepType:         stepType,
			EmployeeName:     emp.name,
			EmployeePosition: emp.position,
			Comment:          comment,
			CreatedAt:        ev.CreatedAt,
		})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return repair(steps)
}

// CleanComment normalizes a raw comment and strips identity markers.
func CleanComment(raw string) string {
	s := norm.NFC.String(raw)
	s = markerPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func classify(st domain.Status, comment, position string) (domain.Role, domain.StepType, bool) {
	var (
		role     domain.Role
		stepType domain.StepType
	)
	if comment != "" {
		for _, p := range stepPatterns {
			if p.re.MatchString(comment) {
				role, stepType = p.role, p.stepType
				break
			}
		}
	}

	if stepType == "" {
		d, ok := statusDefaults[st]
		if !ok {
			// PENDING/CANCELLED/WAITING_STOCK housekeeping or an unknown status.
			return "", "", false
		}
		return d.role, d.stepType, true
	}

	if role == "" && position != "" {
		if r, ok := status.RoleByLabel(normalizePosition(position)); ok {
			role = r
		}
	}
	if role == "" {
		if stepType == domain.StepReleased {
			role = releaseRoles[st]
		} else {
			role = statusDefaults[st].role
		}
	}
	if role == "" {
		return "", "", false
	}
	return role, stepType, true
}

func extractEmployee(comment string) employee {
	if comment == "" {
		return employee{}
	}
	for _, re := range employeePatterns {
		m := re.FindStringSubmatch(comment)
		if m == nil {
			continue
		}
		var e employee
		for i, group := range re.SubexpNames() {
			switch group {
			case "name":
				e.name = strings.TrimSpace(m[i])
			case "position":
				e.position = normalizePosition(m[i])
			}
		}
		if e.name != "" {
			return e
		}
	}
	return employee{}
}

// normalizePosition maps instrumental forms ("Курьером") back to the label.
func normalizePosition(p string) string {
	p = strings.TrimSpace(p)
	return strings.TrimSuffix(p, "ом")
}

// repair inserts a virtual PACKER completion when delivery starts right after
// picking with no recorded packing completion. The virtual step is credited to
// the last packer named before it, never to one named later in the log.
func repair(steps []domain.ProcessingStep) []domain.ProcessingStep {
	out := make([]domain.ProcessingStep, 0, len(steps)+1)
	var (
		lastPicker      domain.StepType
		packerCompleted bool
		packer          string
	)
	for _, s := range steps {
		if s.Role == domain.RoleCourier && s.StepType == domain.StepStarted &&
			lastPicker == domain.StepCompleted && !packerCompleted {
			out = append(out, domain.ProcessingStep{
				Role:             domain.RolePacker,
				StepType:         domain.StepCompleted,
				EmployeeName:     packer,
				EmployeePosition: status.RoleLabel(domain.RolePacker),
				CreatedAt:        s.CreatedAt.Add(-time.Millisecond),
				IsVirtual:        true,
			})
			packerCompleted = true
		}

		switch s.Role {
		case domain.RolePicker:
			lastPicker = s.StepType
		case domain.RolePacker:
			if s.EmployeeName != "" {
				packer = s.EmployeeName
			}
			if s.StepType == domain.StepCompleted {
				packerCompleted = true
			}
		}
		out = append(out, s)
	}
	return out
}

type stepKey struct {
	role     domain.Role
	stepType domain.StepType
	name     string
}

// MergeLocal prepends not-yet-persisted local steps, dropping any that the
// reconstructed history (or an earlier local step) already contains.
func MergeLocal(local, steps []domain.ProcessingStep) []domain.ProcessingStep {
	if len(local) == 0 {
		return steps
	}
	seen := make(map[stepKey]struct{}, len(steps)+len(local))
	for _, s := range steps {
		seen[stepKey{s.Role, s.StepType, s.EmployeeName}] = struct{}{}
	}
	out := make([]domain.ProcessingStep, 0, len(local)+len(steps))
	for _, s := range local {
		k := stepKey{s.Role, s.StepType, s.EmployeeName}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return append(out, steps...)
}
