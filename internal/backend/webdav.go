// webdav.go — backend http_dav: WebDAV поверх HTTP(S).
//
// Ошибки TLS и аутентификации (401/403) всегда возвращаются как
// ConnectionError, в какой бы операции они ни возникли. Запросы операции
// привязаны к её контексту: по таймауту или отмене они прерываются.
package backend

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

// WebDAV — backend http_dav.
type WebDAV struct {
	id        string
	url       string
	dir       string
	auth      gowebdav.Authorizer
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
}

// NewWebDAV создаёт WebDAV backend. Сетевых запросов не выполняет.
func NewWebDAV(cfg config.BackendConfig, opts Options) (*WebDAV, error) {
	transport, err := buildTransport(cfg, opts)
	if err != nil {
		return nil, model.Wrap(model.KindConfiguration, "new_backend", cfg.ID, err)
	}

	return &WebDAV{
		id:        cfg.ID,
		url:       cfg.URL,
		dir:       path.Join("/", strings.Trim(cfg.RemoteDir, "/")),
		auth:      gowebdav.NewAutoAuth(cfg.Username, cfg.Password),
		transport: transport,
		timeout:   opts.OperationTimeout,
		logger:    opts.Logger.With(slog.String("component", "backend"), slog.String("backend", cfg.ID)),
	}, nil
}

// client создаёт клиента для одной операции: каждый его запрос получает
// ctx операции. Authorizer общий, согласованная схема аутентификации
// переиспользуется между операциями.
func (w *WebDAV) client(ctx context.Context) *gowebdav.Client {
	c := gowebdav.NewAuthClient(w.url, w.auth)
	c.SetTransport(w.transport)
	if w.timeout > 0 {
		c.SetTimeout(w.timeout)
	}
	c.SetInterceptor(func(_ string, rq *http.Request) {
		*rq = *rq.WithContext(ctx)
	})
	return c
}

// buildTransport создаёт HTTP-транспорт с настроенным TLS.
func buildTransport(cfg config.BackendConfig, opts Options) (*http.Transport, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.VerifySSLEnabled(), //nolint:gosec // настраивается через verify_ssl
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", cfg.CACert, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: opts.ConnectTimeout,
	}, nil
}

func (w *WebDAV) ID() string {
	return w.id
}

func (w *WebDAV) Type() config.BackendType {
	return config.BackendHTTPDAV
}

// TestConnection выполняет OPTIONS к корню хранилища.
func (w *WebDAV) TestConnection(ctx context.Context) error {
	err := runWithContext(ctx, nil, w.client(ctx).Connect)
	return w.wrap(model.KindConnection, "test_connection", err)
}

// ListArtifacts читает remote_dir через PROPFIND.
// Отсутствующая директория — пустой список.
func (w *WebDAV) ListArtifacts(ctx context.Context, prefix string) ([]model.Artifact, error) {
	var artifacts []model.Artifact

	client := w.client(ctx)
	err := runWithContext(ctx, nil, func() error {
		files, err := client.ReadDir(w.dir)
		if err != nil {
			if gowebdav.IsErrNotFound(err) {
				return nil
			}
			return err
		}

		artifacts = make([]model.Artifact, 0, len(files))
		for _, fi := range files {
			name := fi.Name()
			if fi.IsDir() || filestore.IsPartial(name) || !strings.HasPrefix(name, prefix) {
				continue
			}
			if fi.ModTime().IsZero() {
				return fmt.Errorf("сервер не вернул время модификации для %s", name)
			}
			artifacts = append(artifacts, model.Artifact{
				Name:      name,
				Location:  w.id,
				CreatedAt: fi.ModTime().UTC(),
				SizeBytes: fi.Size(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, w.wrap(model.KindListing, "list", err)
	}
	return artifacts, nil
}

// Upload записывает файл под временным именем и переименовывает его
// с перезаписью. При ошибке временный файл удаляется.
func (w *WebDAV) Upload(ctx context.Context, localPath, remoteName string) error {
	if err := checkRemoteName("upload", w.id, remoteName); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return model.Wrap(model.KindUpload, "upload", w.id, err)
	}
	defer f.Close()

	target := path.Join(w.dir, remoteName)
	tmp := path.Join(w.dir, filestore.PartialName(remoteName))

	client := w.client(ctx)
	err = runWithContext(ctx, nil, func() error {
		if err := client.MkdirAll(w.dir, 0o755); err != nil {
			return fmt.Errorf("создание директории %s: %w", w.dir, err)
		}
		if err := client.WriteStream(tmp, f, 0o644); err != nil {
			w.removePartial(tmp)
			return fmt.Errorf("запись %s: %w", tmp, err)
		}
		if err := client.Rename(tmp, target, true); err != nil {
			w.removePartial(tmp)
			return fmt.Errorf("переименование в %s: %w", target, err)
		}
		return nil
	})
	if err != nil {
		return w.wrap(model.KindUpload, "upload", err)
	}

	w.logger.Debug("Файл загружен",
		slog.String("local_path", localPath),
		slog.String("remote_path", target),
	)
	return nil
}

// Delete удаляет артефакт. 404 — успех.
func (w *WebDAV) Delete(ctx context.Context, remoteName string) error {
	if err := checkRemoteName("delete", w.id, remoteName); err != nil {
		return err
	}

	target := path.Join(w.dir, remoteName)
	client := w.client(ctx)
	err := runWithContext(ctx, nil, func() error {
		err := client.Remove(target)
		if err != nil && gowebdav.IsErrNotFound(err) {
			return nil
		}
		return err
	})
	return w.wrap(model.KindDelete, "delete", err)
}

// removePartial удаляет временный файл. Контекст операции к этому моменту
// может быть отменён, поэтому удаление выполняется своим клиентом с
// таймаутом операции.
func (w *WebDAV) removePartial(tmp string) {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	if err := w.client(ctx).Remove(tmp); err != nil && !gowebdav.IsErrNotFound(err) {
		w.logger.Warn("Не удалось удалить временный файл",
			slog.String("remote_path", tmp),
			slog.String("error", err.Error()),
		)
	}
}

// Close закрывает простаивающие соединения транспорта.
func (w *WebDAV) Close(context.Context) error {
	if t, ok := w.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// wrap превращает ошибку в доменную, выделяя ошибки TLS и аутентификации.
func (w *WebDAV) wrap(kind model.Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if isAuthOrTLSError(err) {
		kind = model.KindConnection
	}
	return model.Wrap(kind, op, w.id, err)
}

// isAuthOrTLSError проверяет, связана ли ошибка с TLS, аутентификацией
// или недоступностью сервера.
func isAuthOrTLSError(err error) bool {
	if gowebdav.IsErrCode(err, http.StatusUnauthorized) || gowebdav.IsErrCode(err, http.StatusForbidden) {
		return true
	}
	var statusErr gowebdav.StatusError
	if errors.As(err, &statusErr) &&
		(statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden) {
		return true
	}

	var (
		certErr      *tls.CertificateVerificationError
		unknownAuth  x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidCert  x509.CertificateInvalidError
		recordHeader tls.RecordHeaderError
		opErr        *net.OpError
	)
	switch {
	case errors.As(err, &certErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidCert),
		errors.As(err, &recordHeader):
		return true
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return true
	}
	return false
}
