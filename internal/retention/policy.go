package retention

import (
	"fmt"
	"strings"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Policy — окна хранения одного уровня в днях.
type Policy struct {
	DailyDays   int `json:"daily_days" yaml:"daily_days"`
	WeeklyDays  int `json:"weekly_days" yaml:"weekly_days"`
	MonthlyDays int `json:"monthly_days" yaml:"monthly_days"`
	MaxAgeDays  int `json:"max_age_days" yaml:"max_age_days"`
}

// Window возвращает окно хранения для категории.
// Для unknown используется max_age.
func (p Policy) Window(b model.Bucket) int {
	switch b {
	case model.BucketDaily:
		return p.DailyDays
	case model.BucketWeekly:
		return p.WeeklyDays
	case model.BucketMonthly:
		return p.MonthlyDays
	default:
		return p.MaxAgeDays
	}
}

// Spec — политика уровня в том виде, как она задана в конфигурации.
// nil означает, что поле не задано.
type Spec struct {
	Daily   *int `mapstructure:"daily" json:"daily,omitempty" yaml:"daily,omitempty"`
	Weekly  *int `mapstructure:"weekly" json:"weekly,omitempty" yaml:"weekly,omitempty"`
	Monthly *int `mapstructure:"monthly" json:"monthly,omitempty" yaml:"monthly,omitempty"`
	MaxAge  *int `mapstructure:"max_age" json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// IsEmpty возвращает true, если ни одно поле не задано.
func (s Spec) IsEmpty() bool {
	return s.Daily == nil && s.Weekly == nil && s.Monthly == nil && s.MaxAge == nil
}

// fields возвращает поля в фиксированном порядке.
func (s Spec) fields() []specField {
	return []specField{
		{"daily", s.Daily},
		{"weekly", s.Weekly},
		{"monthly", s.Monthly},
		{"max_age", s.MaxAge},
	}
}

type specField struct {
	name  string
	value *int
}

// SpecFromPolicy строит Spec с заданными всеми полями.
func SpecFromPolicy(p Policy) Spec {
	return Spec{
		Daily:   intPtr(p.DailyDays),
		Weekly:  intPtr(p.WeeklyDays),
		Monthly: intPtr(p.MonthlyDays),
		MaxAge:  intPtr(p.MaxAgeDays),
	}
}

// Effective дополняет незаданные поля значением устаревшего retention_days.
// Если legacy не задан, незаданные поля остаются nil.
func Effective(s Spec, legacy *int) Spec {
	fill := func(v *int) *int {
		if v != nil {
			return v
		}
		return legacy
	}
	return Spec{
		Daily:   fill(s.Daily),
		Weekly:  fill(s.Weekly),
		Monthly: fill(s.Monthly),
		MaxAge:  fill(s.MaxAge),
	}
}

// State — состояние разрешения политики уровня.
type State string

const (
	// StateResolved — политика определена, очистка выполняется.
	StateResolved State = "resolved"
	// StateUnset — политика не задана, уровень пропускается.
	StateUnset State = "unset"
	// StateInvalid — политика задана с ошибками (только в отчётах проверки).
	StateInvalid State = "invalid"
)

// Source — откуда взяты значения политики.
type Source string

const (
	SourceStructured Source = "structured"
	SourceLegacy     Source = "legacy"
	SourceMixed      Source = "mixed"
)

// Resolution — результат разрешения политики уровня: Resolved(policy) или Unset.
type Resolution struct {
	State  State  `json:"state" yaml:"state"`
	Source Source `json:"source,omitempty" yaml:"source,omitempty"`
	// Policy заполнена только для StateResolved
	Policy Policy `json:"policy" yaml:"policy"`
}

// Resolved возвращает true для определённой политики.
func (r Resolution) Resolved() bool {
	return r.State == StateResolved
}

// Resolve разрешает политику уровня по цепочке:
// структурированная политика → устаревший retention_days → не задана.
//
// Ошибка ConfigurationError возвращается, если часть полей не задана и
// нет legacy-значения, или если итоговое значение не положительное.
// Нарушение монотонности ошибкой не считается (см. Validate).
func Resolve(s Spec, legacy *int) (Resolution, error) {
	if s.IsEmpty() && legacy == nil {
		return Resolution{State: StateUnset}, nil
	}

	eff := Effective(s, legacy)

	var missing, invalid []string
	for _, f := range eff.fields() {
		switch {
		case f.value == nil:
			missing = append(missing, f.name)
		case *f.value <= 0:
			invalid = append(invalid, fmt.Sprintf("%s=%d", f.name, *f.value))
		}
	}
	if len(missing) > 0 {
		return Resolution{}, model.New(model.KindConfiguration, "resolve_policy", "",
			"не заданы параметры политики: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Resolution{}, model.New(model.KindConfiguration, "resolve_policy", "",
			"значения политики должны быть положительными: "+strings.Join(invalid, ", "))
	}

	source := SourceStructured
	switch {
	case s.IsEmpty():
		source = SourceLegacy
	case legacy != nil && (s.Daily == nil || s.Weekly == nil || s.Monthly == nil || s.MaxAge == nil):
		source = SourceMixed
	}

	return Resolution{
		State:  StateResolved,
		Source: source,
		Policy: Policy{
			DailyDays:   *eff.Daily,
			WeeklyDays:  *eff.Weekly,
			MonthlyDays: *eff.Monthly,
			MaxAgeDays:  *eff.MaxAge,
		},
	}, nil
}

func intPtr(v int) *int {
	return &v
}
