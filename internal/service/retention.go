// retention.go — сводка и проверка сконфигурированных политик хранения.
package service

import (
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/retention"
)

// Уровни хранения в отчётах.
const (
	TierLocal  = model.LocationLocal
	TierRemote = "remote"
)

// RetentionSummary — состояние политик хранения обоих уровней.
type RetentionSummary struct {
	// LegacyMode — структурированная политика не задана ни для одного уровня
	LegacyMode    bool                   `json:"legacy_mode" yaml:"legacy_mode"`
	RetentionDays *int                   `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	Tiers         []retention.TierReport `json:"tiers" yaml:"tiers"`
	// Valid — ни в одном уровне нет нарушений
	Valid bool `json:"valid" yaml:"valid"`
}

// SummarizeRetention проверяет политики local и remote.
// Политика не исправляется: нарушения только перечисляются.
func SummarizeRetention(cfg config.RetentionConfig) RetentionSummary {
	summary := RetentionSummary{
		LegacyMode:    cfg.LegacyMode(),
		RetentionDays: cfg.RetentionDays,
		Tiers: []retention.TierReport{
			retention.CheckTier(TierLocal, cfg.Local, cfg.RetentionDays),
			retention.CheckTier(TierRemote, cfg.Remote, cfg.RetentionDays),
		},
		Valid: true,
	}
	for _, t := range summary.Tiers {
		if len(t.Violations) > 0 {
			summary.Valid = false
		}
	}
	return summary
}
