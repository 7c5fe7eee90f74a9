// Пакет cli — команды backup-retention на cobra.
//
// Коды завершения:
//
//	0 — все цели обработаны без ошибок
//	1 — ошибка выполнения (недоступный backend, ошибка удаления или загрузки)
//	2 — ошибка конфигурации или аргументов
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/backup-retention/internal/backend"
	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
)

// Коды завершения процесса.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ExitError — завершение с заданным кодом. Silent: результат уже
// выведен, сообщение об ошибке печатать не нужно.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("код завершения %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// failed — результат выведен, но содержит ошибки.
func failed() error {
	return &ExitError{Code: ExitFailure, Silent: true}
}

// options — глобальные флаги.
type options struct {
	configPath string
	output     string
}

// NewRootCmd создаёт корневую команду со всеми подкомандами.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "backup-retention",
		Short: "Управление жизненным циклом резервных копий",
		Long: `backup-retention очищает локальные и удалённые резервные копии
по многоуровневой политике хранения (daily / weekly / monthly / max_age)
и загружает новые копии в удалённое хранилище (WebDAV, FTP, CIFS).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutput(opts.output)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"файл конфигурации (по умолчанию ./backup-retention.yaml или /etc/backup-retention/backup-retention.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "формат вывода: table, json, yaml")

	cmd.AddCommand(
		newCleanupCmd(opts),
		newValidateRetentionCmd(opts),
		newRetentionCmd(opts),
		newTestBackendCmd(opts),
		newUploadCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// Execute выполняет команду с аргументами args и возвращает код завершения.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	code := ExitFailure
	silent := false
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		code, silent = exitErr.Code, exitErr.Silent
	case model.KindOf(err) == model.KindConfiguration:
		code = ExitConfig
	case isUsageError(err):
		code = ExitConfig
	}

	if !silent {
		_, _ = fmt.Fprintln(stderr, "Ошибка:", err)
	}
	return code
}

// usageError — некорректные аргументы командной строки.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// app — загруженная конфигурация и общие зависимости команды.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

// loadApp читает конфигурацию и настраивает логгер (логи идут в stderr).
func loadApp(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger := config.SetupLogger(cfg, cmd.ErrOrStderr())
	if cfg.ConfigFile != "" {
		logger.Debug("Конфигурация загружена", slog.String("file", cfg.ConfigFile))
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// backends создаёт backend-ы. Вызывающий обязан закрыть набор через closeBackends.
func (a *app) backends() *backend.Set {
	return backend.NewSet(a.cfg.Remote.Backends, a.cfg.Timeouts, a.logger)
}

// closeBackends освобождает backend-ы и собственные точки монтирования.
func (a *app) closeBackends(set *backend.Set) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeouts.Mount)
	defer cancel()
	if err := set.Close(ctx); err != nil {
		a.logger.Warn("Ошибка освобождения backend-ов", slog.String("error", err.Error()))
	}
}
