package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/backup-retention/internal/domain/model"
)

func TestProbeService_CachesResult(t *testing.T) {
	b := newFakeBackend("nas")
	probe := NewProbeService(newSet(b), 16, time.Minute, time.Second, testLogger())
	ctx := context.Background()

	first := probe.TestBackend(ctx, "nas", false)
	if !first.OK || first.Cached {
		t.Fatalf("первая проверка: %+v", first)
	}
	if first.BackendType != "http_dav" {
		t.Errorf("BackendType: получили %s", first.BackendType)
	}

	second := probe.TestBackend(ctx, "nas", false)
	if !second.Cached {
		t.Error("повторная проверка в пределах TTL должна браться из кэша")
	}
	if b.tests != 1 {
		t.Errorf("ожидалась одна реальная проверка, выполнено %d", b.tests)
	}

	fresh := probe.TestBackend(ctx, "nas", true)
	if fresh.Cached || b.tests != 2 {
		t.Errorf("fresh должен обходить кэш: cached=%v tests=%d", fresh.Cached, b.tests)
	}

	probe.Invalidate("nas")
	if probe.TestBackend(ctx, "nas", false).Cached {
		t.Error("после Invalidate результат не должен браться из кэша")
	}
}

func TestProbeService_TTLExpiration(t *testing.T) {
	b := newFakeBackend("nas")
	probe := NewProbeService(newSet(b), 16, 50*time.Millisecond, time.Second, testLogger())

	probe.TestBackend(context.Background(), "nas", false)
	time.Sleep(100 * time.Millisecond)

	if probe.TestBackend(context.Background(), "nas", false).Cached {
		t.Error("после истечения TTL ожидалась новая проверка")
	}
}

func TestProbeService_Failure(t *testing.T) {
	b := newFakeBackend("share")
	b.connErr = model.New(model.KindNotMounted, "mount", "/mnt/backup_storage", "ресурс не смонтирован")

	report := NewProbeService(newSet(b), 16, time.Minute, time.Second, testLogger()).
		TestBackend(context.Background(), "share", false)
	if report.OK || report.ErrorKind != model.KindNotMounted || report.Error == "" {
		t.Errorf("ожидалась NotMountedError, получено %+v", report)
	}
}

func TestProbeService_UnknownBackend(t *testing.T) {
	report := NewProbeService(newSet(), 16, time.Minute, time.Second, testLogger()).
		TestBackend(context.Background(), "absent", false)
	if report.OK || report.ErrorKind != model.KindConfiguration {
		t.Errorf("ожидалась ConfigurationError, получено %+v", report)
	}
}
