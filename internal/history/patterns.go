package history

import (
	"regexp"

	"fulfillment-sync/internal/domain"
)

// PatternTableVersion identifies the comment grammar below. Previously written
// events are parsed with it, so patterns may be added but existing ones must
// keep matching what they matched before.
const PatternTableVersion = 3

type stepPattern struct {
	stepType domain.StepType
	role     domain.Role // empty: infer from position or status
	re       *regexp.Regexp
}

// stepPatterns is checked top to bottom: completion, then started, then
// released.
var stepPatterns = []stepPattern{
	{domain.StepCompleted, domain.RolePicker, regexp.MustCompile(`(?i)сборка\s+(заверш|окончен)|заказ\s+собран`)},
	{domain.StepCompleted, domain.RolePacker, regexp.MustCompile(`(?i)упаковка\s+(заверш|окончен)|заказ\s+упакован`)},
	{domain.StepCompleted, domain.RoleCourier, regexp.MustCompile(`(?i)доставка\s+(заверш|окончен)|заказ\s+доставлен|вручен\s+клиенту`)},
	{domain.StepCompleted, "", regexp.MustCompile(`(?i)(picking|packing|delivery)\s+completed`)},

	{domain.StepStarted, domain.RolePicker, regexp.MustCompile(`(?i)сборка\s+начата|начал[аи]?\s+сборк|взят\pL*\s+в\s+сборк`)},
	{domain.StepStarted, domain.RolePacker, regexp.MustCompile(`(?i)упаковка\s+начата|начал[аи]?\s+упаковк|взят\pL*\s+в\s+упаковк`)},
	{domain.StepStarted, domain.RoleCourier, regexp.MustCompile(`(?i)доставка\s+начата|передан\pL*\s+курьеру|взят\pL*\s+в\s+доставк`)},
	{domain.StepStarted, "", regexp.MustCompile(`(?i)(picking|packing|delivery)\s+started|order\s+taken`)},

	{domain.StepReleased, "", regexp.MustCompile(`(?i)освобожд|освобож[её]н|отказ\pL*\s+от\s+заказа|возвращ\pL*\s+в\s+очередь|released`)},
}

// Employee patterns, most specific first. Each yields a name and optionally a
// position.
var employeePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)обработано\s+сотрудником\s+(?P<name>[^()]+?)\s*\((?P<position>[^)]+)\)`),
	regexp.MustCompile(`(?i)сотрудник(?:ом)?:?\s+(?P<name>[^()]+?)\s*\((?P<position>[^)]+)\)`),
	regexp.MustCompile(`(?P<position>Сборщик|Упаковщик|Курьер)(?:ом)?:\s*(?P<name>[А-ЯЁA-Z][\pL-]+(?:\s+[А-ЯЁA-Z]\.){0,2})`),
	regexp.MustCompile(`(?i)\bby\s+(?P<name>[^()]+?)\s*\((?P<position>[^)]+)\)`),
}

// markerPattern matches the identity marker some clients embed, e.g. "[uid:42]".
var markerPattern = regexp.MustCompile(`(?i)\[\s*(?:uid|emp|staff)\s*:\s*[^\]]*\]`)

// statusDefaults classifies events whose comment says nothing recognisable.
var statusDefaults = map[domain.Status]struct {
	role     domain.Role
	stepType domain.StepType
}{
	domain.StatusPicking:          {domain.RolePicker, domain.StepStarted},
	domain.StatusConfirmed:        {domain.RolePicker, domain.StepCompleted},
	domain.StatusPacking:          {domain.RolePacker, domain.StepStarted},
	domain.StatusPackingCompleted: {domain.RolePacker, domain.StepCompleted},
	domain.StatusInDelivery:       {domain.RoleCourier, domain.StepStarted},
	domain.StatusDelivered:        {domain.RoleCourier, domain.StepCompleted},
}

// releaseRoles: a release puts the order back into the status the role took
// it from.
var releaseRoles = map[domain.Status]domain.Role{
	domain.StatusPending:    domain.RolePicker,
	domain.StatusConfirmed:  domain.RolePacker,
	domain.StatusInDelivery: domain.RoleCourier,
}
