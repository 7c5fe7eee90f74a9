package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFile создаёт файл с заданным mtime.
func writeFile(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("backup data"), 0o640); err != nil {
		t.Fatalf("Ошибка создания файла: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Ошибка установки mtime: %v", err)
	}
}

func TestNew_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backups")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("директория %s не создана", dir)
	}
	if fs.Dir() != dir {
		t.Errorf("Dir(): хотели %s, получили %s", dir, fs.Dir())
	}
}

func TestList_FiltersAndMetadata(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	writeFile(t, dir, "orders_20250601_100000.dump", mtime)
	writeFile(t, dir, "orders_20250602_100000.sql.gz", mtime)
	writeFile(t, dir, "users_20250601_100000.DUMP", mtime)
	writeFile(t, dir, "notes.txt", mtime)
	writeFile(t, dir, ".orders_20250603.dump.abcd1234.part", mtime)
	writeFile(t, dir, "orders_20250604.dump.tmp", mtime)
	if err := os.Mkdir(filepath.Join(dir, "sub.dump"), 0o750); err != nil {
		t.Fatal(err)
	}

	fs := Open(dir, ".dump", ".sql", ".gz", ".bz2")

	artifacts, err := fs.List("local", "")
	if err != nil {
		t.Fatalf("List() вернул ошибку: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("ожидалось 3 артефакта, получено %d: %+v", len(artifacts), artifacts)
	}
	for _, a := range artifacts {
		if a.Location != "local" {
			t.Errorf("Location: хотели local, получили %s", a.Location)
		}
		if !a.CreatedAt.Equal(mtime) {
			t.Errorf("CreatedAt %s: хотели %v, получили %v", a.Name, mtime, a.CreatedAt)
		}
		if a.SizeBytes != int64(len("backup data")) {
			t.Errorf("SizeBytes %s: получили %d", a.Name, a.SizeBytes)
		}
	}

	withPrefix, err := fs.List("local", "orders_")
	if err != nil {
		t.Fatalf("List(prefix) вернул ошибку: %v", err)
	}
	if len(withPrefix) != 2 {
		t.Errorf("с префиксом orders_ ожидалось 2 артефакта, получено %d", len(withPrefix))
	}
}

func TestList_MissingDir(t *testing.T) {
	fs := Open(filepath.Join(t.TempDir(), "absent"))
	if _, err := fs.List("local", ""); err == nil {
		t.Error("ожидалась ошибка для несуществующей директории")
	}
}

func TestSave_AtomicWithChecksum(t *testing.T) {
	dir := t.TempDir()
	fs := Open(dir)

	content := "pg_dump output"
	res, err := fs.Save(strings.NewReader(content), "db.dump")
	if err != nil {
		t.Fatalf("Save() вернул ошибку: %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum: хотели %x, получили %s", sum, res.Checksum)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("Size: хотели %d, получили %d", len(content), res.Size)
	}

	// Повторная запись перезаписывает файл
	if _, err := fs.Save(strings.NewReader("v2"), "db.dump"); err != nil {
		t.Fatalf("повторный Save() вернул ошибку: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "db.dump"))
	if string(data) != "v2" {
		t.Errorf("содержимое после перезаписи: %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("временные файлы не удалены: %d записей", len(entries))
	}
}

func TestSaveFrom(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.dump")
	if err := os.WriteFile(src, []byte("dump"), 0o640); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir()

	res, err := Open(dst).SaveFrom(src, "copy.dump")
	if err != nil {
		t.Fatalf("SaveFrom() вернул ошибку: %v", err)
	}
	if res.FullPath != filepath.Join(dst, "copy.dump") {
		t.Errorf("FullPath: получили %s", res.FullPath)
	}

	sum, err := ComputeChecksum(src)
	if err != nil {
		t.Fatalf("ComputeChecksum() вернул ошибку: %v", err)
	}
	if sum != res.Checksum {
		t.Errorf("checksum источника и копии различаются: %s != %s", sum, res.Checksum)
	}

	if _, err := Open(dst).SaveFrom(filepath.Join(dst, "absent"), "x.dump"); err == nil {
		t.Error("ожидалась ошибка для отсутствующего источника")
	}
}

func TestDeleteFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.dump", time.Now())
	fs := Open(dir)

	if err := fs.DeleteFile("old.dump"); err != nil {
		t.Fatalf("первое удаление: %v", err)
	}
	if err := fs.DeleteFile("old.dump"); err != nil {
		t.Errorf("повторное удаление должно быть успешным: %v", err)
	}
}

func TestDeleteFile_RejectsTraversal(t *testing.T) {
	fs := Open(t.TempDir())
	for _, name := range []string{"../etc/passwd", "a/b.dump", "", ".."} {
		if err := fs.DeleteFile(name); err == nil {
			t.Errorf("DeleteFile(%q): ожидалась ошибка", name)
		}
	}
}

func TestPartialName(t *testing.T) {
	name := PartialName("db.dump")
	if !IsPartial(name) {
		t.Errorf("IsPartial(%q) = false", name)
	}
	if name == PartialName("db.dump") {
		t.Error("временные имена должны быть уникальными")
	}
	if IsPartial("db.dump") {
		t.Error("обычное имя не должно считаться временным")
	}
}
