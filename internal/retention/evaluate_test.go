package retention

import (
	"fmt"
	"sort"
	"testing"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// artifactsAged создаёт артефакты с указанным возрастом в днях.
func artifactsAged(ages ...int) []model.Artifact {
	out := make([]model.Artifact, 0, len(ages))
	for _, age := range ages {
		out = append(out, model.Artifact{
			Name:      fmt.Sprintf("db_%d.dump", age),
			Location:  model.LocationLocal,
			CreatedAt: daysAgo(age),
			SizeBytes: 1024,
		})
	}
	return out
}

// ages извлекает возраст из решений, отсортированный по возрастанию.
func ages(vs []Verdict) []int {
	out := make([]int, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.AgeDays)
	}
	sort.Ints(out)
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEvaluate_EndToEndExample(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		wantKeep   []int
		wantDelete []int
	}{
		{
			name:       "weekly=60",
			policy:     Policy{DailyDays: 10, WeeklyDays: 60, MonthlyDays: 150, MaxAgeDays: 365},
			wantKeep:   []int{5, 45, 120},
			wantDelete: []int{400},
		},
		{
			name:       "weekly=40",
			policy:     Policy{DailyDays: 10, WeeklyDays: 40, MonthlyDays: 150, MaxAgeDays: 365},
			wantKeep:   []int{5, 120},
			wantDelete: []int{45, 400},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(artifactsAged(5, 45, 120, 400), tt.policy, testNow)

			if got := ages(d.Keep); !equalInts(got, tt.wantKeep) {
				t.Errorf("Keep: хотели %v, получили %v", tt.wantKeep, got)
			}
			if got := ages(d.Delete); !equalInts(got, tt.wantDelete) {
				t.Errorf("Delete: хотели %v, получили %v", tt.wantDelete, got)
			}
		})
	}
}

func TestEvaluate_TieIsKept(t *testing.T) {
	p := Policy{DailyDays: 10, WeeklyDays: 60, MonthlyDays: 150, MaxAgeDays: 365}

	// Возраст ровно равен окну категории или потолку
	d := Evaluate(artifactsAged(10, 60, 150, 365), p, testNow)

	if len(d.Delete) != 0 {
		t.Errorf("при равенстве окну ничего не удаляется, удалено: %v", ages(d.Delete))
	}

	d = Evaluate(artifactsAged(11, 61, 151, 366), p, testNow)
	if len(d.Keep) != 0 {
		t.Errorf("на день старше окна всё удаляется, сохранено: %v", ages(d.Keep))
	}
}

func TestEvaluate_CeilingDominates(t *testing.T) {
	// Окна категорий больше потолка: потолок всё равно удаляет
	p := Policy{DailyDays: 400, WeeklyDays: 400, MonthlyDays: 400, MaxAgeDays: 50}

	d := Evaluate(artifactsAged(20, 50, 51, 120), p, testNow)

	if got, want := ages(d.Keep), []int{20, 50}; !equalInts(got, want) {
		t.Errorf("Keep: хотели %v, получили %v", want, got)
	}
	for _, v := range d.Delete {
		if v.Reason != ReasonMaxAge {
			t.Errorf("артефакт %d дней: причина %q, ожидалась %q", v.AgeDays, v.Reason, ReasonMaxAge)
		}
	}
}

func TestEvaluate_UnknownUsesMaxAge(t *testing.T) {
	p := Policy{DailyDays: 1, WeeklyDays: 1, MonthlyDays: 1, MaxAgeDays: 1000}

	d := Evaluate(artifactsAged(500), p, testNow)
	if len(d.Keep) != 1 {
		t.Fatalf("артефакт категории unknown младше max_age должен сохраняться: %+v", d)
	}
	if d.Keep[0].Bucket != model.BucketUnknown || d.Keep[0].Window != 1000 {
		t.Errorf("неожиданное решение: %+v", d.Keep[0])
	}
}

func TestEvaluate_WindowReason(t *testing.T) {
	p := Policy{DailyDays: 3, WeeklyDays: 60, MonthlyDays: 150, MaxAgeDays: 365}

	d := Evaluate(artifactsAged(7), p, testNow)
	if len(d.Delete) != 1 {
		t.Fatalf("ожидалось одно удаление, получено %d", len(d.Delete))
	}
	v := d.Delete[0]
	if v.Reason != ReasonWindow || v.Bucket != model.BucketDaily || v.Window != 3 {
		t.Errorf("неожиданное решение: %+v", v)
	}
}

func TestEvaluate_Empty(t *testing.T) {
	d := Evaluate(nil, Policy{DailyDays: 1, WeeklyDays: 1, MonthlyDays: 1, MaxAgeDays: 1}, testNow)
	if len(d.Keep) != 0 || len(d.Delete) != 0 {
		t.Errorf("пустой вход: ожидалось пустое решение, получено %+v", d)
	}
}
