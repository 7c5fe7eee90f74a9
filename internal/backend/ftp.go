// ftp.go — backend transfer_session: FTP / FTPS (explicit TLS).
//
// Каждая операция открывает собственную сессию (dial → login → операция)
// и закрывает её через QUIT при любом исходе. Поддерживается только
// пассивный режим: EPSV с откатом на PASV либо сразу PASV (disable_epsv).
package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

// ftpConn — операции FTP-сессии, используемые backend-ом.
type ftpConn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	MakeDir(path string) error
	List(path string) ([]*ftp.Entry, error)
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	NoOp() error
	Quit() error
}

// ftpDialFunc открывает управляющее соединение.
type ftpDialFunc func(ctx context.Context, addr string, options ...ftp.DialOption) (ftpConn, error)

func dialFTP(ctx context.Context, addr string, options ...ftp.DialOption) (ftpConn, error) {
	conn, err := ftp.Dial(addr, append(options, ftp.DialWithContext(ctx))...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FTP — backend transfer_session.
type FTP struct {
	id     string
	cfg    config.BackendConfig
	addr   string
	opts   []ftp.DialOption
	dial   ftpDialFunc
	logger *slog.Logger
}

// NewFTP создаёт FTP backend. Сетевых запросов не выполняет.
func NewFTP(cfg config.BackendConfig, opts Options) (*FTP, error) {
	if !cfg.PassiveEnabled() {
		return nil, model.New(model.KindConfiguration, "new_backend", cfg.ID, "активный режим FTP не поддерживается")
	}

	port := cfg.Port
	if port == 0 {
		port = 21
	}

	dialOpts := []ftp.DialOption{
		ftp.DialWithDisabledEPSV(cfg.DisableEPSV),
	}
	if opts.ConnectTimeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(opts.ConnectTimeout))
	}
	if cfg.TLS {
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         cfg.Host,
			InsecureSkipVerify: !cfg.VerifySSLEnabled(), //nolint:gosec // настраивается через verify_ssl
		}))
	}

	return &FTP{
		id:     cfg.ID,
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		opts:   dialOpts,
		dial:   dialFTP,
		logger: opts.Logger.With(slog.String("component", "backend"), slog.String("backend", cfg.ID)),
	}, nil
}

func (f *FTP) ID() string {
	return f.id
}

func (f *FTP) Type() config.BackendType {
	return config.BackendTransferSession
}

// TestConnection открывает сессию, авторизуется и выполняет NOOP.
func (f *FTP) TestConnection(ctx context.Context) error {
	return f.session(ctx, model.KindConnection, "test_connection", func(c ftpConn) error {
		return c.NoOp()
	})
}

// ListArtifacts читает remote_dir. Отсутствующая директория — пустой список.
func (f *FTP) ListArtifacts(ctx context.Context, prefix string) ([]model.Artifact, error) {
	artifacts := []model.Artifact{}

	err := f.session(ctx, model.KindListing, "list", func(c ftpConn) error {
		if err := f.enterDir(c, false); err != nil {
			if errors.Is(err, errDirMissing) {
				return nil
			}
			return err
		}
		entries, err := c.List(".")
		if err != nil {
			return err
		}

		artifacts = make([]model.Artifact, 0, len(entries))
		for _, e := range entries {
			name := path.Base(e.Name)
			if e.Type != ftp.EntryTypeFile || filestore.IsPartial(name) || !strings.HasPrefix(name, prefix) {
				continue
			}
			if e.Time.IsZero() {
				return fmt.Errorf("сервер не вернул время модификации для %s", name)
			}
			artifacts = append(artifacts, model.Artifact{
				Name:      name,
				Location:  f.id,
				CreatedAt: e.Time.UTC(),
				SizeBytes: int64(e.Size), //nolint:gosec // размер файла помещается в int64
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// Upload передаёт файл под временным именем (STOR) и переименовывает
// его (RNFR/RNTO). remote_dir создаётся при необходимости.
func (f *FTP) Upload(ctx context.Context, localPath, remoteName string) error {
	if err := checkRemoteName("upload", f.id, remoteName); err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return model.Wrap(model.KindUpload, "upload", f.id, err)
	}
	defer file.Close()

	return f.session(ctx, model.KindUpload, "upload", func(c ftpConn) error {
		if err := f.enterDir(c, true); err != nil {
			return err
		}

		tmp := filestore.PartialName(remoteName)
		if err := c.Stor(tmp, file); err != nil {
			_ = c.Delete(tmp)
			return fmt.Errorf("STOR %s: %w", tmp, err)
		}
		return f.replace(c, tmp, remoteName)
	})
}

// replace переименовывает загруженный tmp в name. Серверы, которые не
// перезаписывают файл при RNTO, получают трёхшаговую замену: старая копия
// отводится под скрытое имя, новая занимает её место, старая удаляется.
// При любой ошибке на сервере остаётся либо прежний файл, либо новый.
func (f *FTP) replace(c ftpConn, tmp, name string) error {
	renameErr := c.Rename(tmp, name)
	if renameErr == nil {
		return nil
	}

	exists, err := fileExists(c, name)
	if err != nil || !exists {
		_ = c.Delete(tmp)
		return fmt.Errorf("RNTO %s: %w", name, renameErr)
	}

	aside := filestore.PartialName(name)
	if err := c.Rename(name, aside); err != nil {
		_ = c.Delete(tmp)
		return fmt.Errorf("RNTO %s: %w", name, renameErr)
	}
	if err := c.Rename(tmp, name); err != nil {
		if restoreErr := c.Rename(aside, name); restoreErr != nil {
			// Прежняя копия осталась под скрытым именем, новая в tmp:
			// удалять нельзя ни одну из них.
			f.logger.Error("Не удалось вернуть прежнюю копию после ошибки замены",
				slog.String("name", name),
				slog.String("previous", aside),
				slog.String("uploaded", tmp),
				slog.String("error", restoreErr.Error()),
			)
			return fmt.Errorf("RNTO %s: %w (прежняя копия сохранена как %s)", name, err, aside)
		}
		_ = c.Delete(tmp)
		return fmt.Errorf("RNTO %s: %w", name, err)
	}
	if err := c.Delete(aside); err != nil {
		f.logger.Warn("Не удалось удалить прежнюю копию после замены",
			slog.String("name", aside),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Delete удаляет артефакт. Ответ 550 проверяется листингом: если файла
// действительно нет, удаление считается успешным. Отсутствующая
// remote_dir означает, что артефакта нет.
func (f *FTP) Delete(ctx context.Context, remoteName string) error {
	if err := checkRemoteName("delete", f.id, remoteName); err != nil {
		return err
	}

	return f.session(ctx, model.KindDelete, "delete", func(c ftpConn) error {
		if err := f.enterDir(c, false); err != nil {
			if errors.Is(err, errDirMissing) {
				return nil
			}
			return err
		}

		err := c.Delete(remoteName)
		if err == nil || !isFileUnavailable(err) {
			return err
		}
		exists, listErr := fileExists(c, remoteName)
		if listErr != nil || exists {
			return err
		}
		return nil
	})
}

// fileExists ищет имя в текущей директории сессии.
func fileExists(c ftpConn, name string) (bool, error) {
	entries, err := c.List(".")
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile && path.Base(e.Name) == name {
			return true, nil
		}
	}
	return false, nil
}

// Close — сессии закрываются после каждой операции.
func (f *FTP) Close(context.Context) error {
	return nil
}

// session выполняет fn в отдельной FTP-сессии. Сессия закрывается при
// любом исходе; при отмене ctx соединение закрывается немедленно,
// что прерывает блокирующую операцию.
func (f *FTP) session(ctx context.Context, kind model.Kind, op string, fn func(c ftpConn) error) error {
	conn, err := f.dial(ctx, f.addr, f.opts...)
	if err != nil {
		return model.Wrap(model.KindConnection, op, f.id, err)
	}

	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			if err := conn.Quit(); err != nil {
				f.logger.Debug("Ошибка закрытия FTP-сессии", slog.String("error", err.Error()))
			}
		})
	}
	defer closeConn()

	err = runWithContext(ctx, closeConn, func() error {
		user, password := f.cfg.Username, f.cfg.Password
		if user == "" {
			user, password = "anonymous", "anonymous"
		}
		if err := conn.Login(user, password); err != nil {
			return model.Wrap(model.KindConnection, "login", f.id, err)
		}
		return fn(conn)
	})
	return model.Wrap(kind, op, f.id, err)
}

// errDirMissing — remote_dir не существует (ответ 550 на CWD).
var errDirMissing = errors.New("remote_dir не существует")

// enterDir переходит в remote_dir, создавая его по сегментам при create.
func (f *FTP) enterDir(c ftpConn, create bool) error {
	dir := f.cfg.RemoteDir
	if dir == "" {
		return nil
	}
	err := c.ChangeDir(dir)
	if err == nil {
		return nil
	}
	if !create {
		if isFileUnavailable(err) {
			return fmt.Errorf("%s: %w", dir, errDirMissing)
		}
		return err
	}

	if strings.HasPrefix(dir, "/") {
		if err := c.ChangeDir("/"); err != nil {
			return err
		}
	}
	for _, segment := range strings.Split(strings.Trim(dir, "/"), "/") {
		if segment == "" {
			continue
		}
		if err := c.ChangeDir(segment); err == nil {
			continue
		}
		if err := c.MakeDir(segment); err != nil {
			return fmt.Errorf("создание директории %s: %w", segment, err)
		}
		if err := c.ChangeDir(segment); err != nil {
			return err
		}
	}
	return nil
}

// isFileUnavailable — ответ 550 (файл недоступен или не найден).
func isFileUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}
