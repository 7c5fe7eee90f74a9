// upload.go — загрузка новой резервной копии в удалённое хранилище.
//
// Загрузка выполняется один раз, без повторов. Локальная копия не
// удаляется ни при успехе, ни при ошибке.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

// Prometheus метрики загрузки
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "br_uploads_total",
		Help: "Количество загрузок по результату (uploaded, skipped, failed)",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "br_upload_bytes_total",
		Help: "Объём загруженных данных в байтах",
	})
)

// UploadService — загрузка резервных копий.
type UploadService struct {
	cfg      *config.Config
	backends BackendProvider
	logger   *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(cfg *config.Config, backends BackendProvider, logger *slog.Logger) *UploadService {
	return &UploadService{
		cfg:      cfg,
		backends: backends,
		logger:   logger.With(slog.String("component", "upload")),
	}
}

// UploadIfEnabled загружает artifactPath в backend backendID
// (пусто — remote.upload_backend). При выключенном remote.enabled
// загрузка пропускается и считается успешной.
func (s *UploadService) UploadIfEnabled(ctx context.Context, artifactPath, backendID string) model.UploadResult {
	start := time.Now()
	res := model.UploadResult{Path: artifactPath}

	if !s.cfg.Remote.Enabled {
		res.Skipped = true
		uploadsTotal.WithLabelValues("skipped").Inc()
		s.logger.Info("Удалённое хранилище отключено, загрузка пропущена", slog.String("path", artifactPath))
		return res
	}

	err := s.upload(ctx, &res, backendID)
	res.Duration = time.Since(start)
	if err != nil {
		res.ErrorKind = model.KindOf(err)
		res.Error = err.Error()
		uploadsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Ошибка загрузки резервной копии",
			slog.String("path", artifactPath),
			slog.String("backend", res.BackendID),
			slog.String("error_kind", string(res.ErrorKind)),
			slog.String("error", res.Error),
		)
		return res
	}

	res.Uploaded = true
	uploadsTotal.WithLabelValues("uploaded").Inc()
	uploadBytesTotal.Add(float64(res.SizeBytes))
	s.logger.Info("Резервная копия загружена",
		slog.String("path", artifactPath),
		slog.String("backend", res.BackendID),
		slog.String("remote_name", res.RemoteName),
		slog.Int64("size", res.SizeBytes),
		slog.String("checksum", res.Checksum),
		slog.Duration("duration", res.Duration),
	)
	return res
}

func (s *UploadService) upload(ctx context.Context, res *model.UploadResult, backendID string) error {
	if backendID == "" {
		backendID = s.cfg.Remote.UploadBackend
	}
	res.BackendID = backendID
	if backendID == "" {
		return model.New(model.KindConfiguration, "upload", "", "не задан backend для загрузки (remote.upload_backend)")
	}

	b, err := s.backends.Get(backendID)
	if err != nil {
		return err
	}

	name := filepath.Base(res.Path)
	if filestore.IsPartial(name) {
		return model.New(model.KindUpload, "upload", backendID,
			fmt.Sprintf("%s — временный файл незавершённой записи", name))
	}
	info, err := os.Stat(res.Path)
	if err != nil {
		return model.Wrap(model.KindUpload, "upload", backendID, err)
	}
	if !info.Mode().IsRegular() {
		return model.New(model.KindUpload, "upload", backendID,
			fmt.Sprintf("%s не является обычным файлом", res.Path))
	}

	checksum, err := filestore.ComputeChecksum(res.Path)
	if err != nil {
		return model.Wrap(model.KindUpload, "upload", backendID, err)
	}
	res.RemoteName = name
	res.SizeBytes = info.Size()
	res.Checksum = checksum

	if s.cfg.Timeouts.Operation > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeouts.Operation)
		defer cancel()
	}
	return b.Upload(ctx, res.Path, name)
}
