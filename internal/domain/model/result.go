package model

import "time"

// CleanupResult — итог очистки одного места хранения.
type CleanupResult struct {
	// Location — "local" или идентификатор backend-а
	Location string `json:"location" yaml:"location"`
	// BackendType — тип backend-а (пусто для local)
	BackendType string `json:"backend_type,omitempty" yaml:"backend_type,omitempty"`
	// Scanned — количество найденных артефактов
	Scanned int `json:"scanned" yaml:"scanned"`
	// Kept — количество сохранённых артефактов по категориям
	Kept map[Bucket]int `json:"kept" yaml:"kept"`
	// Deleted — количество удалённых артефактов
	Deleted int `json:"deleted" yaml:"deleted"`
	// Failed — количество артефактов, удалить которые не удалось
	Failed int `json:"failed" yaml:"failed"`
	// DeletedNames — имена удалённых артефактов
	DeletedNames []string `json:"deleted_names,omitempty" yaml:"deleted_names,omitempty"`
	// Failures — ошибки удаления по артефактам
	Failures []ArtifactFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	// PolicyUnset — политика для уровня не задана, удаление не выполнялось
	PolicyUnset bool `json:"policy_unset,omitempty" yaml:"policy_unset,omitempty"`
	// ErrorKind и Error — терминальная ошибка цели (backend недоступен и т.п.)
	ErrorKind Kind   `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	// Duration — длительность обработки цели
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// ArtifactFailure — ошибка удаления одного артефакта.
type ArtifactFailure struct {
	Name  string `json:"name" yaml:"name"`
	Kind  Kind   `json:"kind" yaml:"kind"`
	Error string `json:"error" yaml:"error"`
}

// NewCleanupResult создаёт пустой результат для места хранения.
func NewCleanupResult(location string) CleanupResult {
	kept := make(map[Bucket]int, len(Buckets))
	for _, b := range Buckets {
		kept[b] = 0
	}
	return CleanupResult{Location: location, Kept: kept}
}

// SetTerminal фиксирует терминальную ошибку цели.
func (r *CleanupResult) SetTerminal(err error) {
	r.ErrorKind = KindOf(err)
	r.Error = err.Error()
}

// KeptTotal возвращает общее количество сохранённых артефактов.
func (r *CleanupResult) KeptTotal() int {
	total := 0
	for _, n := range r.Kept {
		total += n
	}
	return total
}

// OK возвращает true, если цель обработана без ошибок.
func (r *CleanupResult) OK() bool {
	return r.Error == "" && r.Failed == 0
}

// UploadResult — итог загрузки артефакта в удалённое хранилище.
type UploadResult struct {
	Path       string `json:"path" yaml:"path"`
	RemoteName string `json:"remote_name,omitempty" yaml:"remote_name,omitempty"`
	BackendID  string `json:"backend_id,omitempty" yaml:"backend_id,omitempty"`
	// Uploaded — файл передан в удалённое хранилище
	Uploaded bool `json:"uploaded" yaml:"uploaded"`
	// Skipped — удалённое хранилище отключено, загрузка не требуется
	Skipped   bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	Checksum  string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	// Duration — длительность загрузки
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// ConnectionReport — результат проверки подключения к backend-у.
type ConnectionReport struct {
	BackendID   string        `json:"backend_id" yaml:"backend_id"`
	BackendType string        `json:"backend_type,omitempty" yaml:"backend_type,omitempty"`
	OK          bool          `json:"ok" yaml:"ok"`
	ErrorKind   Kind          `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
	Latency     time.Duration `json:"latency_ns" yaml:"latency_ns"`
	CheckedAt   time.Time     `json:"checked_at" yaml:"checked_at"`
	// Cached — результат взят из кэша проверок
	Cached bool `json:"cached,omitempty" yaml:"cached,omitempty"`
}
