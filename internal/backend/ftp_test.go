package backend

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/bigkaa/backup-retention/internal/config"
	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/storage/filestore"
)

type fakeFTPFile struct {
	data  []byte
	mtime time.Time
}

// fakeFTPServer — FTP-сервер в памяти. Сессии создаются через dial.
type fakeFTPServer struct {
	mu       sync.Mutex
	files    map[string]fakeFTPFile
	dirs     map[string]bool
	user     string
	password string

	sessions int
	quits    int

	dialErr    error
	storErr    error
	deleteErr  error
	blockList  bool
	zeroMtimes bool
	// renameErr, если задан, решает исход RNFR/RNTO до перемещения файла.
	renameErr func(from, to string, targetExists bool) error
}

func newFakeFTPServer() *fakeFTPServer {
	return &fakeFTPServer{
		files: make(map[string]fakeFTPFile),
		dirs:  map[string]bool{"/": true},
	}
}

func (s *fakeFTPServer) dial(_ context.Context, _ string, _ ...ftp.DialOption) (ftpConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	s.sessions++
	return &fakeFTPConn{srv: s, cwd: "/", quit: make(chan struct{})}, nil
}

func (s *fakeFTPServer) put(p string, data string, mtime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[path.Dir(p)] = true
	s.files[p] = fakeFTPFile{data: []byte(data), mtime: mtime}
}

func (s *fakeFTPServer) counts() (sessions, quits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions, s.quits
}

func (s *fakeFTPServer) names(dir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.files {
		if path.Dir(p) == dir {
			out = append(out, path.Base(p))
		}
	}
	return out
}

func unavailable(msg string) error {
	return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: msg}
}

type fakeFTPConn struct {
	srv      *fakeFTPServer
	cwd      string
	quit     chan struct{}
	quitOnce sync.Once
}

func (c *fakeFTPConn) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

func (c *fakeFTPConn) Login(user, password string) error {
	if c.srv.user != "" && (user != c.srv.user || password != c.srv.password) {
		return &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Login incorrect"}
	}
	return nil
}

func (c *fakeFTPConn) ChangeDir(p string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	abs := c.resolve(p)
	if !c.srv.dirs[abs] {
		return unavailable("No such directory")
	}
	c.cwd = abs
	return nil
}

func (c *fakeFTPConn) MakeDir(p string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.dirs[c.resolve(p)] = true
	return nil
}

func (c *fakeFTPConn) List(p string) ([]*ftp.Entry, error) {
	if c.srv.blockList {
		<-c.quit
		return nil, errors.New("connection closed")
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	dir := c.resolve(p)
	var entries []*ftp.Entry
	for p, f := range c.srv.files {
		if path.Dir(p) != dir {
			continue
		}
		mtime := f.mtime
		if c.srv.zeroMtimes {
			mtime = time.Time{}
		}
		entries = append(entries, &ftp.Entry{
			Name: path.Base(p),
			Type: ftp.EntryTypeFile,
			Size: uint64(len(f.data)),
			Time: mtime,
		})
	}
	for d := range c.srv.dirs {
		if d != dir && path.Dir(d) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(d), Type: ftp.EntryTypeFolder})
		}
	}
	return entries, nil
}

func (c *fakeFTPConn) Stor(p string, r io.Reader) error {
	if c.srv.storErr != nil {
		return c.srv.storErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.files[c.resolve(p)] = fakeFTPFile{data: data, mtime: time.Now()}
	return nil
}

func (c *fakeFTPConn) Rename(from, to string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	f, ok := c.srv.files[c.resolve(from)]
	if !ok {
		return unavailable("No such file")
	}
	if c.srv.renameErr != nil {
		_, exists := c.srv.files[c.resolve(to)]
		if err := c.srv.renameErr(from, to, exists); err != nil {
			return err
		}
	}
	c.srv.files[c.resolve(to)] = f
	delete(c.srv.files, c.resolve(from))
	return nil
}

func (c *fakeFTPConn) Delete(p string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.deleteErr != nil {
		return c.srv.deleteErr
	}
	if _, ok := c.srv.files[c.resolve(p)]; !ok {
		return unavailable("No such file")
	}
	delete(c.srv.files, c.resolve(p))
	return nil
}

func (c *fakeFTPConn) NoOp() error {
	return nil
}

func (c *fakeFTPConn) Quit() error {
	c.quitOnce.Do(func() {
		close(c.quit)
		c.srv.mu.Lock()
		c.srv.quits++
		c.srv.mu.Unlock()
	})
	return nil
}

// newTestFTP создаёт FTP backend, работающий с fake-сервером.
func newTestFTP(t *testing.T, srv *fakeFTPServer, remoteDir string) *FTP {
	t.Helper()
	b, err := NewFTP(config.BackendConfig{
		ID:        "ftp",
		Type:      config.BackendTransferSession,
		Host:      "ftp.example.com",
		Username:  "backup",
		Password:  "secret",
		RemoteDir: remoteDir,
	}, Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewFTP() вернул ошибку: %v", err)
	}
	b.dial = srv.dial
	return b
}

func localDump(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "local.dump")
	if err := os.WriteFile(p, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	return p
}

func assertSessionsClosed(t *testing.T, srv *fakeFTPServer) {
	t.Helper()
	sessions, quits := srv.counts()
	if sessions != quits {
		t.Errorf("открыто сессий %d, закрыто %d", sessions, quits)
	}
}

func TestFTP_UploadListDelete(t *testing.T) {
	srv := newFakeFTPServer()
	b := newTestFTP(t, srv, "/backups/pg")
	ctx := context.Background()

	if err := b.Upload(ctx, localDump(t, "dump v1"), "db_20250601.dump"); err != nil {
		t.Fatalf("Upload() вернул ошибку: %v", err)
	}
	// Повторная загрузка перезаписывает файл
	if err := b.Upload(ctx, localDump(t, "dump v2"), "db_20250601.dump"); err != nil {
		t.Fatalf("повторный Upload() вернул ошибку: %v", err)
	}

	names := srv.names("/backups/pg")
	if len(names) != 1 || names[0] != "db_20250601.dump" {
		t.Fatalf("на сервере ожидался один файл без временных, получено %v", names)
	}

	artifacts, err := b.ListArtifacts(ctx, "db_")
	if err != nil {
		t.Fatalf("ListArtifacts() вернул ошибку: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("ожидался 1 артефакт, получено %d", len(artifacts))
	}
	if artifacts[0].Location != "ftp" || artifacts[0].SizeBytes != int64(len("dump v2")) {
		t.Errorf("метаданные артефакта: %+v", artifacts[0])
	}

	if err := b.Delete(ctx, "db_20250601.dump"); err != nil {
		t.Fatalf("Delete() вернул ошибку: %v", err)
	}
	if err := b.Delete(ctx, "db_20250601.dump"); err != nil {
		t.Errorf("повторный Delete() должен быть успешным: %v", err)
	}

	assertSessionsClosed(t, srv)
	if sessions, _ := srv.counts(); sessions != 5 {
		t.Errorf("ожидалась одна сессия на операцию (5), получено %d", sessions)
	}
}

func TestFTP_ListFiltersPartialAndPrefix(t *testing.T) {
	srv := newFakeFTPServer()
	now := time.Now()
	srv.put("/pg/db_1.dump", "a", now)
	srv.put("/pg/other_1.dump", "a", now)
	srv.put("/pg/"+filestore.PartialName("db_2.dump"), "a", now)

	artifacts, err := newTestFTP(t, srv, "/pg").ListArtifacts(context.Background(), "db_")
	if err != nil {
		t.Fatalf("ListArtifacts() вернул ошибку: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "db_1.dump" {
		t.Errorf("ожидался только db_1.dump, получено %+v", artifacts)
	}
}

func TestFTP_ListMissingDir(t *testing.T) {
	srv := newFakeFTPServer()
	artifacts, err := newTestFTP(t, srv, "/absent").ListArtifacts(context.Background(), "")
	if err != nil {
		t.Fatalf("отсутствующая remote_dir должна давать пустой список, получено %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("ожидался пустой список, получено %+v", artifacts)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_DeleteInMissingDir(t *testing.T) {
	srv := newFakeFTPServer()
	if err := newTestFTP(t, srv, "/absent").Delete(context.Background(), "db.dump"); err != nil {
		t.Errorf("удаление из отсутствующей remote_dir должно быть успешным, получено %v", err)
	}
	if srv.dirs["/absent"] {
		t.Error("Delete не должен создавать remote_dir")
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_ChangeDirFailureIsNotMissingDir(t *testing.T) {
	srv := newFakeFTPServer()
	srv.put("/pg/db.dump", "a", time.Now())
	b := newTestFTP(t, srv, "/pg")
	b.dial = func(ctx context.Context, addr string, opts ...ftp.DialOption) (ftpConn, error) {
		c, err := srv.dial(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return &deniedCwdConn{ftpConn: c}, nil
	}

	if _, err := b.ListArtifacts(context.Background(), ""); !errors.Is(err, model.ErrListing) {
		t.Errorf("отказ в доступе к remote_dir должен быть ListingError, получено %v", err)
	}
	if err := b.Delete(context.Background(), "db.dump"); !errors.Is(err, model.ErrDelete) {
		t.Errorf("отказ в доступе к remote_dir должен быть DeleteError, получено %v", err)
	}
	assertSessionsClosed(t, srv)
}

// deniedCwdConn отвечает 530 на CWD.
type deniedCwdConn struct {
	ftpConn
}

func (c *deniedCwdConn) ChangeDir(string) error {
	return &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "Permission denied"}
}

func TestFTP_ListWithoutMtimeFails(t *testing.T) {
	srv := newFakeFTPServer()
	srv.put("/db_1.dump", "a", time.Now())
	srv.zeroMtimes = true

	_, err := newTestFTP(t, srv, "").ListArtifacts(context.Background(), "")
	if !errors.Is(err, model.ErrListing) {
		t.Errorf("ожидалась ListingError, получено %v", err)
	}
}

func TestFTP_LoginFailureClosesSession(t *testing.T) {
	srv := newFakeFTPServer()
	srv.user, srv.password = "backup", "other"

	err := newTestFTP(t, srv, "").TestConnection(context.Background())
	if !errors.Is(err, model.ErrConnection) {
		t.Errorf("ожидалась ConnectionError, получено %v", err)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_DialFailure(t *testing.T) {
	srv := newFakeFTPServer()
	srv.dialErr = errors.New("connection refused")

	_, err := newTestFTP(t, srv, "").ListArtifacts(context.Background(), "")
	if !errors.Is(err, model.ErrConnection) {
		t.Errorf("ожидалась ConnectionError, получено %v", err)
	}
}

func TestFTP_StorFailureLeavesNoPartial(t *testing.T) {
	srv := newFakeFTPServer()
	srv.storErr = &textproto.Error{Code: 452, Msg: "Insufficient storage"}

	err := newTestFTP(t, srv, "/pg").Upload(context.Background(), localDump(t, "x"), "db.dump")
	if !errors.Is(err, model.ErrUpload) {
		t.Errorf("ожидалась UploadError, получено %v", err)
	}
	if names := srv.names("/pg"); len(names) != 0 {
		t.Errorf("после ошибки на сервере остались файлы: %v", names)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_RenameFailureKeepsPreviousCopy(t *testing.T) {
	srv := newFakeFTPServer()
	old := time.Now().Add(-time.Hour)
	srv.put("/backups/db.dump", "dump v1", old)
	srv.renameErr = func(_, _ string, _ bool) error {
		return &textproto.Error{Code: 553, Msg: "Rename not allowed"}
	}

	err := newTestFTP(t, srv, "/backups").Upload(context.Background(), localDump(t, "dump v2"), "db.dump")
	if !errors.Is(err, model.ErrUpload) {
		t.Errorf("ожидалась UploadError, получено %v", err)
	}

	names := srv.names("/backups")
	if len(names) != 1 || names[0] != "db.dump" {
		t.Fatalf("на сервере должна остаться только прежняя копия, получено %v", names)
	}
	if got := string(srv.files["/backups/db.dump"].data); got != "dump v1" {
		t.Errorf("содержимое прежней копии изменилось: %q", got)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_UploadReplacesWhenRenameDoesNotOverwrite(t *testing.T) {
	srv := newFakeFTPServer()
	srv.put("/backups/db.dump", "dump v1", time.Now().Add(-time.Hour))
	srv.renameErr = func(_, _ string, targetExists bool) error {
		if targetExists {
			return &textproto.Error{Code: 553, Msg: "File exists"}
		}
		return nil
	}

	if err := newTestFTP(t, srv, "/backups").Upload(context.Background(), localDump(t, "dump v2"), "db.dump"); err != nil {
		t.Fatalf("Upload() вернул ошибку: %v", err)
	}

	names := srv.names("/backups")
	if len(names) != 1 || names[0] != "db.dump" {
		t.Fatalf("на сервере ожидался один файл без временных, получено %v", names)
	}
	if got := string(srv.files["/backups/db.dump"].data); got != "dump v2" {
		t.Errorf("ожидалась новая копия, получено %q", got)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_FailedReplaceRestoresPreviousCopy(t *testing.T) {
	srv := newFakeFTPServer()
	srv.put("/backups/db.dump", "dump v1", time.Now().Add(-time.Hour))
	// RNTO на занятое имя отклоняется; старую копию отвести можно, но
	// вторая попытка переименовать загруженный файл тоже отклоняется.
	calls := 0
	srv.renameErr = func(_, _ string, targetExists bool) error {
		calls++
		if targetExists || calls == 3 {
			return &textproto.Error{Code: 553, Msg: "Rename not allowed"}
		}
		return nil
	}

	err := newTestFTP(t, srv, "/backups").Upload(context.Background(), localDump(t, "dump v2"), "db.dump")
	if !errors.Is(err, model.ErrUpload) {
		t.Errorf("ожидалась UploadError, получено %v", err)
	}

	names := srv.names("/backups")
	if len(names) != 1 || names[0] != "db.dump" {
		t.Fatalf("после отката должна остаться только прежняя копия, получено %v", names)
	}
	if got := string(srv.files["/backups/db.dump"].data); got != "dump v1" {
		t.Errorf("прежняя копия не восстановлена: %q", got)
	}
	assertSessionsClosed(t, srv)
}

func TestFTP_UploadMissingLocalFile(t *testing.T) {
	srv := newFakeFTPServer()
	err := newTestFTP(t, srv, "").Upload(context.Background(), filepath.Join(t.TempDir(), "absent"), "db.dump")
	if !errors.Is(err, model.ErrUpload) {
		t.Errorf("ожидалась UploadError, получено %v", err)
	}
	if sessions, _ := srv.counts(); sessions != 0 {
		t.Errorf("сессия не должна открываться без локального файла, открыто %d", sessions)
	}
}

func TestFTP_Delete550ForExistingFile(t *testing.T) {
	srv := newFakeFTPServer()
	srv.put("/db.dump", "a", time.Now())
	srv.deleteErr = unavailable("Permission denied")

	err := newTestFTP(t, srv, "").Delete(context.Background(), "db.dump")
	if !errors.Is(err, model.ErrDelete) {
		t.Errorf("ожидалась DeleteError для существующего файла, получено %v", err)
	}
}

func TestFTP_TimeoutClosesSession(t *testing.T) {
	srv := newFakeFTPServer()
	srv.blockList = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFTP(t, srv, "").ListArtifacts(ctx, "")
	if !errors.Is(err, model.ErrTimeout) {
		t.Errorf("ожидалась TimeoutError, получено %v", err)
	}
	assertSessionsClosed(t, srv)
}

func TestNewFTP_ActiveModeRejected(t *testing.T) {
	passive := false
	_, err := NewFTP(config.BackendConfig{
		ID: "f", Type: config.BackendTransferSession, Host: "h", PassiveMode: &passive,
	}, Options{Logger: testLogger()})
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("ожидалась ConfigurationError, получено %v", err)
	}
}
