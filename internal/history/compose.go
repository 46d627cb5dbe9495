package history

import (
	"fmt"
	"strings"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/status"
)

var stageNouns = map[domain.Role]string{
	domain.RolePicker:  "Сборка",
	domain.RolePacker:  "Упаковка",
	domain.RoleCourier: "Доставка",
}

// ComposeComment renders a status-change comment in the grammar Reconstruct
// parses. It returns "" when the step has no wording for the role.
func ComposeComment(stepType domain.StepType, role domain.Role, employeeName string) string {
	var head string
	switch stepType {
	case domain.StepStarted:
		if noun, ok := stageNouns[role]; ok {
			head = noun + " начата."
		}
	case domain.StepCompleted:
		if noun, ok := stageNouns[role]; ok {
			head = noun + " завершена."
		}
	case domain.StepReleased:
		head = "Заказ освобождён."
	}
	if head == "" {
		return ""
	}
	return withSignature(head, role, employeeName)
}

// StatusChangeComment is used for transitions that are not a step of the
// actor's own stage (handoffs, cancellations, privileged overrides).
func StatusChangeComment(to domain.Status, role domain.Role, employeeName string) string {
	return withSignature(fmt.Sprintf("Статус изменён: %s.", status.Label(to)), role, employeeName)
}

// StepFor reports which step of role a move into status "to" represents.
func StepFor(to domain.Status, role domain.Role) (domain.StepType, bool) {
	d, ok := statusDefaults[to]
	if !ok || d.role != role {
		return "", false
	}
	return d.stepType, true
}

func withSignature(head string, role domain.Role, employeeName string) string {
	name := strings.TrimSpace(employeeName)
	if name == "" {
		return head
	}
	return fmt.Sprintf("%s Обработано сотрудником %s (%s)", head, name, status.RoleLabel(role))
}
