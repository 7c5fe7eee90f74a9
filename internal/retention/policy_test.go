package retention

import (
	"errors"
	"testing"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

func TestResolve_Unset(t *testing.T) {
	res, err := Resolve(Spec{}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.State != StateUnset || res.Resolved() {
		t.Errorf("State: хотели %s, получили %s", StateUnset, res.State)
	}
}

func TestResolve_LegacyOnly(t *testing.T) {
	res, err := Resolve(Spec{}, intPtr(14))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	want := Policy{DailyDays: 14, WeeklyDays: 14, MonthlyDays: 14, MaxAgeDays: 14}
	if res.Policy != want {
		t.Errorf("Policy: хотели %+v, получили %+v", want, res.Policy)
	}
	if res.Source != SourceLegacy {
		t.Errorf("Source: хотели %s, получили %s", SourceLegacy, res.Source)
	}
}

func TestResolve_Structured(t *testing.T) {
	s := Spec{Daily: intPtr(7), Weekly: intPtr(30), Monthly: intPtr(90), MaxAge: intPtr(365)}

	res, err := Resolve(s, intPtr(5))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	want := Policy{DailyDays: 7, WeeklyDays: 30, MonthlyDays: 90, MaxAgeDays: 365}
	if res.Policy != want {
		t.Errorf("Policy: хотели %+v, получили %+v", want, res.Policy)
	}
	if res.Source != SourceStructured {
		t.Errorf("Source: хотели %s, получили %s", SourceStructured, res.Source)
	}
}

func TestResolve_MissingMaxAgeFromLegacy(t *testing.T) {
	s := Spec{Daily: intPtr(7), Weekly: intPtr(30), Monthly: intPtr(90)}

	res, err := Resolve(s, intPtr(400))
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Policy.MaxAgeDays != 400 {
		t.Errorf("MaxAgeDays: хотели 400, получили %d", res.Policy.MaxAgeDays)
	}
	if res.Source != SourceMixed {
		t.Errorf("Source: хотели %s, получили %s", SourceMixed, res.Source)
	}
}

func TestResolve_MissingWithoutLegacy(t *testing.T) {
	s := Spec{Daily: intPtr(7), Weekly: intPtr(30), Monthly: intPtr(90)}

	_, err := Resolve(s, nil)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("ожидалась ConfigurationError, получено %v", err)
	}
}

func TestResolve_NonPositive(t *testing.T) {
	s := Spec{Daily: intPtr(0), Weekly: intPtr(30), Monthly: intPtr(90), MaxAge: intPtr(365)}

	_, err := Resolve(s, nil)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("ожидалась ConfigurationError, получено %v", err)
	}
}

func TestResolve_NonMonotonicStillResolves(t *testing.T) {
	s := Spec{Daily: intPtr(60), Weekly: intPtr(30), Monthly: intPtr(90), MaxAge: intPtr(365)}

	res, err := Resolve(s, nil)
	if err != nil {
		t.Fatalf("нарушение порядка не должно блокировать разрешение: %v", err)
	}
	if !res.Resolved() {
		t.Errorf("State: хотели %s, получили %s", StateResolved, res.State)
	}
}
