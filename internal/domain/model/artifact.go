// Пакет model — доменные типы: артефакт резервной копии, корзина возраста,
// результаты очистки, загрузки и проверки backend-а.
package model

import "time"

// LocationLocal — идентификатор локального уровня хранения.
const LocationLocal = "local"

// Bucket — возрастная категория артефакта.
type Bucket string

const (
	BucketDaily   Bucket = "daily"
	BucketWeekly  Bucket = "weekly"
	BucketMonthly Bucket = "monthly"
	BucketUnknown Bucket = "unknown"
)

// Buckets — все категории в порядке возрастания возраста.
var Buckets = []Bucket{BucketDaily, BucketWeekly, BucketMonthly, BucketUnknown}

// Artifact — один файл резервной копии в конкретном месте хранения.
// Время создания берётся из mtime файловой системы или удалённого сервера,
// имя файла для этого не разбирается.
type Artifact struct {
	// Name — имя файла, уникальное в пределах места хранения
	Name string `json:"name" yaml:"name"`
	// Location — "local" или идентификатор удалённого backend-а
	Location string `json:"location" yaml:"location"`
	// CreatedAt — время последней модификации
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// SizeBytes — размер файла
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`
}
