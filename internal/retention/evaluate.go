package retention

import (
	"time"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Причины удаления.
const (
	ReasonMaxAge = "max_age"
	ReasonWindow = "window"
)

// Verdict — решение по одному артефакту.
type Verdict struct {
	Artifact model.Artifact `json:"artifact" yaml:"artifact"`
	Bucket   model.Bucket   `json:"bucket" yaml:"bucket"`
	AgeDays  int            `json:"age_days" yaml:"age_days"`
	// Window — окно хранения, применённое к категории
	Window int `json:"window" yaml:"window"`
	// Reason — причина удаления (пусто для сохраняемых)
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Decision — разбиение артефактов на сохраняемые и удаляемые.
type Decision struct {
	Keep   []Verdict `json:"keep" yaml:"keep"`
	Delete []Verdict `json:"delete" yaml:"delete"`
}

// Evaluate применяет политику к списку артефактов.
//
// Артефакт удаляется, если его возраст строго больше max_age (жёсткий потолок)
// или строго больше окна его категории. Равенство окну — сохранение.
// Функция чистая: ничего не удаляет, только принимает решение.
func Evaluate(artifacts []model.Artifact, p Policy, now time.Time) Decision {
	var d Decision
	for _, a := range artifacts {
		age := AgeDays(a.CreatedAt, now)
		bucket := ClassifyAge(age)
		v := Verdict{
			Artifact: a,
			Bucket:   bucket,
			AgeDays:  age,
			Window:   p.Window(bucket),
		}

		switch {
		case age > p.MaxAgeDays:
			v.Reason = ReasonMaxAge
			d.Delete = append(d.Delete, v)
		case age > v.Window:
			v.Reason = ReasonWindow
			d.Delete = append(d.Delete, v)
		default:
			d.Keep = append(d.Keep, v)
		}
	}
	return d
}
