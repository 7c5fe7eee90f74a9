package cli

import (
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/service"
)

func newTestBackendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "test-backend [id...]",
		Short: "Проверить подключение к удалённым хранилищам",
		Long: `Проверяет доступность и учётные данные backend-ов, ничего не изменяя.
Без аргументов проверяются все сконфигурированные backend-ы.
Код завершения 1, если хотя бы один backend недоступен.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			set := a.backends()
			defer a.closeBackends(set)

			ids := args
			if len(ids) == 0 {
				ids = set.IDs()
			}
			if len(ids) == 0 {
				return usagef("удалённые backend-ы не сконфигурированы")
			}

			probe := service.NewProbeService(set, len(ids), a.cfg.Probe.CacheTTL, a.cfg.Timeouts.Connect, a.logger)
			reports := make([]model.ConnectionReport, 0, len(ids))
			for _, id := range ids {
				reports = append(reports, probe.TestBackend(cmd.Context(), id, true))
			}

			if err := render(cmd.OutOrStdout(), opts.output, reports, func(tw *tabwriter.Writer) error {
				if err := row(tw, "BACKEND", "TYPE", "STATUS", "LATENCY", "ERROR"); err != nil {
					return err
				}
				for _, r := range reports {
					status := "ok"
					if !r.OK {
						status = string(r.ErrorKind)
					}
					if err := row(tw, r.BackendID, orDash(r.BackendType), status, r.Latency.Round(time.Millisecond), orDash(r.Error)); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				return err
			}

			for _, r := range reports {
				if !r.OK {
					return failed()
				}
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
