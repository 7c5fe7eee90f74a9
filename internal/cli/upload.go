package cli

import (
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/service"
)

func newUploadCmd(opts *options) *cobra.Command {
	var backendID string

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Загрузить резервную копию в удалённое хранилище",
		Long: `Загружает файл в удалённое хранилище, если remote.enabled.
При выключенном удалённом хранилище загрузка пропускается без ошибки.
Повторов нет; локальная копия сохраняется в любом случае.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, opts)
			if err != nil {
				return err
			}
			set := a.backends()
			defer a.closeBackends(set)

			res := service.NewUploadService(a.cfg, set, a.logger).UploadIfEnabled(cmd.Context(), args[0], backendID)

			if err := render(cmd.OutOrStdout(), opts.output, res, func(tw *tabwriter.Writer) error {
				if err := row(tw, "PATH", "BACKEND", "STATUS", "SIZE", "SHA256"); err != nil {
					return err
				}
				return row(tw, res.Path, orDash(res.BackendID), uploadStatus(res), res.SizeBytes, orDash(res.Checksum))
			}); err != nil {
				return err
			}

			switch {
			case res.Error == "":
				return nil
			case res.ErrorKind == model.KindConfiguration:
				return &ExitError{Code: ExitConfig, Silent: true}
			default:
				return failed()
			}
		},
	}

	cmd.Flags().StringVar(&backendID, "backend", "", "backend для загрузки (по умолчанию remote.upload_backend)")
	return cmd
}

func uploadStatus(res model.UploadResult) string {
	switch {
	case res.Error != "":
		return string(res.ErrorKind) + ": " + res.Error
	case res.Skipped:
		return "skipped: удалённое хранилище отключено"
	default:
		return "uploaded"
	}
}
