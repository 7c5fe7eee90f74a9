package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/retention"
	"github.com/bigkaa/backup-retention/internal/service"
)

// policyFlags — политика, заданная в командной строке.
type policyFlags struct {
	daily, weekly, monthly, maxAge int
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.daily, "daily", 0, "окно хранения daily-копий в днях")
	cmd.Flags().IntVar(&p.weekly, "weekly", 0, "окно хранения weekly-копий в днях")
	cmd.Flags().IntVar(&p.monthly, "monthly", 0, "окно хранения monthly-копий в днях")
	cmd.Flags().IntVar(&p.maxAge, "max-age", 0, "максимальный возраст копии в днях")
}

// spec строит Spec только из явно переданных флагов.
func (p *policyFlags) spec(cmd *cobra.Command) (retention.Spec, bool) {
	changed := func(name string, v int) *int {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &v
	}
	s := retention.Spec{
		Daily:   changed("daily", p.daily),
		Weekly:  changed("weekly", p.weekly),
		Monthly: changed("monthly", p.monthly),
		MaxAge:  changed("max-age", p.maxAge),
	}
	return s, !s.IsEmpty()
}

// policyReport — результат проверки политики из командной строки.
type policyReport struct {
	Spec       retention.Spec        `json:"policy" yaml:"policy"`
	Valid      bool                  `json:"valid" yaml:"valid"`
	Violations []retention.Violation `json:"violations" yaml:"violations"`
}

func newValidateRetentionCmd(opts *options) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "validate-retention",
		Short: "Проверить политику хранения",
		Long: `Проверяет сконфигурированные политики local и remote либо политику,
заданную флагами --daily/--weekly/--monthly/--max-age.

Политика не исправляется: нарушения только перечисляются.
Код завершения 1, если найдены нарушения.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s, ok := pf.spec(cmd); ok {
				report := policyReport{Spec: s, Violations: retention.Validate(s)}
				if report.Violations == nil {
					report.Violations = []retention.Violation{}
				}
				report.Valid = len(report.Violations) == 0
				if err := render(cmd.OutOrStdout(), opts.output, report, func(tw *tabwriter.Writer) error {
					return violationsTable(tw, "policy", report.Violations)
				}); err != nil {
					return err
				}
				if !report.Valid {
					return failed()
				}
				return nil
			}

			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			summary := service.SummarizeRetention(a.cfg.Retention)
			if err := render(cmd.OutOrStdout(), opts.output, summary, func(tw *tabwriter.Writer) error {
				for _, t := range summary.Tiers {
					if err := violationsTable(tw, t.Tier, t.Violations); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}
			if !summary.Valid {
				return failed()
			}
			return nil
		},
	}

	pf.register(cmd)
	return cmd
}

func violationsTable(tw *tabwriter.Writer, tier string, violations []retention.Violation) error {
	if len(violations) == 0 {
		return row(tw, tier, "ok")
	}
	for _, v := range violations {
		if err := row(tw, tier, v.Code, v.Message); err != nil {
			return err
		}
	}
	return nil
}

func newRetentionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retention",
		Short: "Показать действующие политики хранения",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			summary := service.SummarizeRetention(a.cfg.Retention)
			return render(cmd.OutOrStdout(), opts.output, summary, func(tw *tabwriter.Writer) error {
				if summary.LegacyMode {
					if err := row(tw, "legacy_mode", legacyNote(summary.RetentionDays)); err != nil {
						return err
					}
				}
				if err := row(tw, "TIER", "STATE", "SOURCE", "DAILY", "WEEKLY", "MONTHLY", "MAX_AGE", "NOTES"); err != nil {
					return err
				}
				for _, t := range summary.Tiers {
					if err := tierRow(tw, t); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func legacyNote(days *int) string {
	if days == nil {
		return "структурированная политика и retention_days не заданы"
	}
	return fmt.Sprintf("используется retention_days=%d", *days)
}

func tierRow(tw *tabwriter.Writer, t retention.TierReport) error {
	notes := make([]string, 0, len(t.Violations)+1)
	if t.Notice != "" {
		notes = append(notes, t.Notice)
	}
	for _, v := range t.Violations {
		notes = append(notes, v.Message)
	}

	if !t.Resolution.Resolved() {
		return row(tw, t.Tier, t.Resolution.State, "-", "-", "-", "-", "-", strings.Join(notes, "; "))
	}
	p := t.Resolution.Policy
	return row(tw, t.Tier, t.Resolution.State, t.Resolution.Source,
		p.DailyDays, p.WeeklyDays, p.MonthlyDays, p.MaxAgeDays, strings.Join(notes, "; "))
}
