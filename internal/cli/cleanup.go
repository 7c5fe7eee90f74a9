package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/service"
)

func newCleanupCmd(opts *options) *cobra.Command {
	var (
		local     bool
		remote    []string
		allRemote bool
		nowFlag   string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Удалить резервные копии с истёкшим сроком хранения",
		Long: `Очищает локальную директорию и удалённые backend-ы по политике хранения.

Без флагов выбора целей очищаются local и все сконфигурированные backend-ы.
Ошибка одной цели не прерывает обработку остальных; код завершения 1,
если хотя бы одна цель завершилась ошибкой.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseNow(nowFlag)
			if err != nil {
				return err
			}

			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			set := a.backends()
			defer a.closeBackends(set)

			if !local && len(remote) == 0 && !allRemote {
				local, allRemote = true, true
			}
			if allRemote {
				remote = set.IDs()
			}

			results := service.NewCleanupService(a.cfg, set, a.logger).Cleanup(cmd.Context(), local, remote, now)

			if err := render(cmd.OutOrStdout(), opts.output, results, func(tw *tabwriter.Writer) error {
				return cleanupTable(tw, results)
			}); err != nil {
				return err
			}

			for i := range results {
				if !results[i].OK() {
					return failed()
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "очистить локальную директорию")
	cmd.Flags().StringSliceVar(&remote, "remote", nil, "очистить перечисленные backend-ы (id через запятую)")
	cmd.Flags().BoolVar(&allRemote, "all-remote", false, "очистить все сконфигурированные backend-ы")
	cmd.Flags().StringVar(&nowFlag, "now", "", "момент отсчёта возраста (RFC3339 или YYYY-MM-DD, по умолчанию текущее время)")

	return cmd
}

// parseNow разбирает --now. Пустое значение — текущее время UTC.
func parseNow(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, usagef("--now: ожидается RFC3339 или YYYY-MM-DD, получено %q", s)
}

func cleanupTable(tw *tabwriter.Writer, results []model.CleanupResult) error {
	if err := row(tw, "LOCATION", "TYPE", "SCANNED", "KEPT", "DELETED", "FAILED", "STATUS"); err != nil {
		return err
	}
	for i := range results {
		r := &results[i]
		typ := r.BackendType
		if typ == "" {
			typ = "-"
		}
		if err := row(tw, r.Location, typ, r.Scanned, keptSummary(r.Kept), r.Deleted, r.Failed, cleanupStatus(r)); err != nil {
			return err
		}
	}
	return nil
}

// keptSummary — "d/w/m/u" по категориям.
func keptSummary(kept map[model.Bucket]int) string {
	parts := make([]string, 0, len(model.Buckets))
	for _, b := range model.Buckets {
		parts = append(parts, fmt.Sprint(kept[b]))
	}
	return strings.Join(parts, "/")
}

func cleanupStatus(r *model.CleanupResult) string {
	switch {
	case r.Error != "":
		return "error: " + r.Error
	case r.PolicyUnset:
		return "skipped: политика не задана"
	case r.Failed > 0:
		return fmt.Sprintf("partial: %d ошибок удаления", r.Failed)
	default:
		return "ok"
	}
}
