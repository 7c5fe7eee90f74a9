// Пакет retention — классификация артефактов по возрасту и политика хранения
// для двух уровней (local, remote).
//
// Границы категорий фиксированы и не зависят от настроенных окон хранения:
//
//	возраст < 30 дней        → daily
//	30 ≤ возраст < 90 дней   → weekly
//	90 ≤ возраст < 365 дней  → monthly
//	возраст ≥ 365 дней       → unknown
package retention

import (
	"time"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Границы категорий в днях (нижняя граница включительно).
const (
	WeeklyFromDays  = 30
	MonthlyFromDays = 90
	UnknownFromDays = 365
)

const day = 24 * time.Hour

// AgeDays возвращает возраст в полных сутках.
// Время из будущего (рассинхронизация часов) даёт 0.
func AgeDays(createdAt, now time.Time) int {
	d := now.Sub(createdAt)
	if d <= 0 {
		return 0
	}
	return int(d / day)
}

// ClassifyAge возвращает категорию для возраста в днях.
func ClassifyAge(ageDays int) model.Bucket {
	switch {
	case ageDays < WeeklyFromDays:
		return model.BucketDaily
	case ageDays < MonthlyFromDays:
		return model.BucketWeekly
	case ageDays < UnknownFromDays:
		return model.BucketMonthly
	default:
		return model.BucketUnknown
	}
}

// Classify возвращает категорию артефакта относительно now.
func Classify(createdAt, now time.Time) model.Bucket {
	return ClassifyAge(AgeDays(createdAt, now))
}
