package retention

import "fmt"

// Коды нарушений.
const (
	ViolationMissing      = "missing"
	ViolationNonPositive  = "non_positive"
	ViolationNonMonotonic = "non_monotonic"
)

// Violation — одно нарушение в политике хранения.
type Violation struct {
	Field   string `json:"field" yaml:"field"`
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

func (v Violation) String() string {
	return v.Message
}

// Validate проверяет политику и возвращает список нарушений:
// незаданные поля, неположительные значения и нарушение порядка
// daily ≤ weekly ≤ monthly ≤ max_age. Политика не исправляется.
func Validate(s Spec) []Violation {
	var out []Violation

	fields := s.fields()
	for _, f := range fields {
		switch {
		case f.value == nil:
			out = append(out, Violation{
				Field:   f.name,
				Code:    ViolationMissing,
				Message: fmt.Sprintf("Не задан параметр %s", f.name),
			})
		case *f.value <= 0:
			out = append(out, Violation{
				Field:   f.name,
				Code:    ViolationNonPositive,
				Message: fmt.Sprintf("Недопустимое значение %s: %d (должно быть положительным)", f.name, *f.value),
			})
		}
	}

	// Порядок проверяется между заданными полями; незаданные пропускаются,
	// поэтому daily сравнивается с monthly, если weekly не задан.
	var prev *specField
	for i := range fields {
		cur := &fields[i]
		if cur.value == nil {
			continue
		}
		if prev != nil && *prev.value > *cur.value {
			out = append(out, Violation{
				Field:   prev.name,
				Code:    ViolationNonMonotonic,
				Message: fmt.Sprintf("Значение %s (%d) должно быть не больше %s (%d)", prev.name, *prev.value, cur.name, *cur.value),
			})
		}
		prev = cur
	}

	return out
}

// ValidatePolicy проверяет полностью заданную политику.
func ValidatePolicy(p Policy) []Violation {
	return Validate(SpecFromPolicy(p))
}

// TierReport — итог проверки политики одного уровня.
type TierReport struct {
	Tier       string      `json:"tier" yaml:"tier"`
	Resolution Resolution  `json:"resolution" yaml:"resolution"`
	Violations []Violation `json:"violations" yaml:"violations"`
	// Notice — информационное сообщение (например, используется legacy-режим)
	Notice string `json:"notice,omitempty" yaml:"notice,omitempty"`
}

// CheckTier проверяет политику уровня с учётом устаревшего retention_days.
// Уровень без политики нарушением не считается: при очистке он пропускается.
func CheckTier(tier string, s Spec, legacy *int) TierReport {
	report := TierReport{Tier: tier, Violations: []Violation{}}

	if s.IsEmpty() && legacy == nil {
		report.Resolution = Resolution{State: StateUnset}
		report.Notice = "Политика хранения не задана, очистка уровня не выполняется"
		return report
	}

	if s.IsEmpty() {
		report.Notice = "Структурированная политика не задана, используется retention_days"
	}

	report.Violations = append(report.Violations, Validate(Effective(s, legacy))...)
	res, err := Resolve(s, legacy)
	if err != nil {
		res = Resolution{State: StateInvalid}
	}
	report.Resolution = res
	return report
}
