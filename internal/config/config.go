// Пакет config — загрузка и валидация конфигурации backup-retention.
//
// Источники (по возрастанию приоритета): значения по умолчанию, YAML-файл,
// переменные окружения BR_* (точка в ключе заменяется на "_":
// local.dir → BR_LOCAL_DIR).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bigkaa/backup-retention/internal/domain/model"
	"github.com/bigkaa/backup-retention/internal/retention"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// envPrefix — префикс переменных окружения.
const envPrefix = "BR"

// DefaultMountPoint — точка монтирования CIFS по умолчанию.
const DefaultMountPoint = "/mnt/backup_storage"

// DefaultExtensions — расширения файлов резервных копий.
var DefaultExtensions = []string{".dump", ".sql", ".gz", ".bz2"}

// BackendType — тип удалённого хранилища.
type BackendType string

const (
	// BackendHTTPDAV — WebDAV поверх HTTP(S).
	BackendHTTPDAV BackendType = "http_dav"
	// BackendTransferSession — FTP/FTPS с сессией на каждую операцию.
	BackendTransferSession BackendType = "transfer_session"
	// BackendMountedFS — CIFS-ресурс, смонтированный в локальную директорию.
	BackendMountedFS BackendType = "mounted_fs"
)

// Config содержит все параметры конфигурации.
type Config struct {
	// Уровень логирования (debug, info, warn, error)
	LogLevelName string     `mapstructure:"log_level"`
	LogLevel     slog.Level `mapstructure:"-"`
	// Формат логов (json, text)
	LogFormat string `mapstructure:"log_format"`

	Local     LocalConfig     `mapstructure:"local"`
	Retention RetentionConfig `mapstructure:"retention"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Dephealth DephealthConfig `mapstructure:"dephealth"`
	Probe     ProbeConfig     `mapstructure:"probe"`

	// ConfigFile — путь к прочитанному файлу (пусто, если файла нет)
	ConfigFile string `mapstructure:"-"`
}

// LocalConfig — локальная директория резервных копий.
type LocalConfig struct {
	// Директория, куда Dump Producer складывает резервные копии
	Dir string `mapstructure:"dir"`
	// Расширения файлов, которые считаются резервными копиями
	Extensions []string `mapstructure:"extensions"`
}

// RetentionConfig — политики хранения для двух уровней.
type RetentionConfig struct {
	// Устаревший единый срок хранения в днях
	RetentionDays *int           `mapstructure:"retention_days"`
	Local         retention.Spec `mapstructure:"local"`
	Remote        retention.Spec `mapstructure:"remote"`
}

// LegacyMode возвращает true, если структурированная политика не задана ни для одного уровня.
func (r RetentionConfig) LegacyMode() bool {
	return r.Local.IsEmpty() && r.Remote.IsEmpty()
}

// RemoteConfig — удалённые хранилища.
type RemoteConfig struct {
	// Включена ли загрузка в удалённое хранилище
	Enabled bool `mapstructure:"enabled"`
	// Backend для загрузки новых резервных копий
	UploadBackend string          `mapstructure:"upload_backend"`
	Backends      []BackendConfig `mapstructure:"backends"`
}

// Backend возвращает конфигурацию backend-а по идентификатору.
func (r RemoteConfig) Backend(id string) (BackendConfig, bool) {
	for _, b := range r.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// IDs возвращает идентификаторы backend-ов в порядке конфигурации.
func (r RemoteConfig) IDs() []string {
	ids := make([]string, 0, len(r.Backends))
	for _, b := range r.Backends {
		ids = append(ids, b.ID)
	}
	return ids
}

// BackendConfig — параметры одного удалённого хранилища.
// Набор используемых полей зависит от Type.
type BackendConfig struct {
	ID   string      `mapstructure:"id"`
	Type BackendType `mapstructure:"type"`
	// Префикс имён артефактов при листинге
	Prefix string `mapstructure:"prefix"`
	// Поддиректория внутри хранилища
	RemoteDir string `mapstructure:"remote_dir"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`

	// http_dav
	URL       string `mapstructure:"url"`
	VerifySSL *bool  `mapstructure:"verify_ssl"`
	CACert    string `mapstructure:"ca_cert"`
	HealthURL string `mapstructure:"health_url"`

	// transfer_session
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	PassiveMode *bool  `mapstructure:"passive_mode"`
	DisableEPSV bool   `mapstructure:"disable_epsv"`
	TLS         bool   `mapstructure:"tls"`

	// mounted_fs
	Server       string   `mapstructure:"server"`
	Domain       string   `mapstructure:"domain"`
	MountPoint   string   `mapstructure:"mount_point"`
	AutoMount    *bool    `mapstructure:"auto_mount"`
	MountOptions []string `mapstructure:"mount_options"`
}

// VerifySSLEnabled — проверка TLS-сертификата (по умолчанию включена).
func (b BackendConfig) VerifySSLEnabled() bool {
	return b.VerifySSL == nil || *b.VerifySSL
}

// PassiveEnabled — пассивный режим FTP (по умолчанию включён).
func (b BackendConfig) PassiveEnabled() bool {
	return b.PassiveMode == nil || *b.PassiveMode
}

// AutoMountEnabled — автоматическое монтирование (по умолчанию включено).
func (b BackendConfig) AutoMountEnabled() bool {
	return b.AutoMount == nil || *b.AutoMount
}

// TimeoutsConfig — ограничения блокирующих операций.
type TimeoutsConfig struct {
	// Одна операция backend-а (list, delete, upload)
	Operation time.Duration `mapstructure:"operation"`
	// Установка соединения
	Connect time.Duration `mapstructure:"connect"`
	// Монтирование и размонтирование
	Mount time.Duration `mapstructure:"mount"`
}

// ScheduleConfig — периодическая очистка в режиме serve.
type ScheduleConfig struct {
	// Интервал запуска (0 — отключено)
	Interval time.Duration `mapstructure:"interval"`
	// Очищать ли локальный уровень
	Local bool `mapstructure:"local"`
	// Очищать ли все удалённые backend-ы
	Remote bool `mapstructure:"remote"`
}

// ServerConfig — HTTP-сервер режима serve.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Путь к TLS сертификату и ключу (опционально)
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	// Очистка по запросу выполняется синхронно, поэтому таймаут записи большой
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// AuthConfig — JWT-аутентификация API (включается заданием JWKSURL).
type AuthConfig struct {
	JWKSURL         string        `mapstructure:"jwks_url"`
	CACert          string        `mapstructure:"ca_cert"`
	TLSSkipVerify   bool          `mapstructure:"tls_skip_verify"`
	ClientTimeout   time.Duration `mapstructure:"client_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	JWTLeeway       time.Duration `mapstructure:"jwt_leeway"`
}

// DephealthConfig — мониторинг зависимостей через topologymetrics.
type DephealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Group         string        `mapstructure:"group"`
	// Имя вершины графа (по умолчанию "backup-retention")
	Name string `mapstructure:"name"`
}

// ProbeConfig — кэш результатов проверки backend-ов.
type ProbeConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

// setDefaults задаёт значения по умолчанию. Каждый ключ со значением
// по умолчанию также становится доступен для переопределения через BR_*.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("local.dir", "")
	v.SetDefault("local.extensions", DefaultExtensions)

	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.upload_backend", "")

	v.SetDefault("timeouts.operation", 5*time.Minute)
	v.SetDefault("timeouts.connect", 30*time.Second)
	v.SetDefault("timeouts.mount", time.Minute)

	v.SetDefault("schedule.interval", 24*time.Hour)
	v.SetDefault("schedule.local", true)
	v.SetDefault("schedule.remote", true)

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.ca_cert", "")
	v.SetDefault("auth.tls_skip_verify", false)
	v.SetDefault("auth.client_timeout", 10*time.Second)
	v.SetDefault("auth.refresh_interval", 15*time.Minute)
	v.SetDefault("auth.jwt_leeway", 30*time.Second)

	v.SetDefault("dephealth.check_interval", 15*time.Second)
	v.SetDefault("dephealth.group", "backup-retention")
	v.SetDefault("dephealth.name", "backup-retention")

	v.SetDefault("probe.cache_ttl", 30*time.Second)
	v.SetDefault("probe.cache_size", 64)
}

// policyEnvKeys — ключи политик без значений по умолчанию.
// Привязываются к окружению явно: отсутствие значения должно остаться nil.
var policyEnvKeys = []string{
	"retention.retention_days",
	"retention.local.daily", "retention.local.weekly",
	"retention.local.monthly", "retention.local.max_age",
	"retention.remote.daily", "retention.remote.weekly",
	"retention.remote.monthly", "retention.remote.max_age",
}

// Load загружает конфигурацию из файла path (или из стандартных мест
// поиска, если path пуст) и переменных окружения, валидирует её и
// возвращает Config или ConfigurationError.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range policyEnvKeys {
		_ = v.BindEnv(k)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("backup-retention")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/backup-retention")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, configError("чтение файла конфигурации: %v", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, configError("разбор конфигурации: %v", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize проверяет значения и заполняет производные поля.
func (c *Config) normalize() error {
	var err error

	c.LogLevel, err = parseLogLevel(c.LogLevelName)
	if err != nil {
		return configError("log_level: %v", err)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return configError("log_format: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}

	// local.dir — обязательный
	if c.Local.Dir == "" {
		return configError("local.dir: обязательный параметр не задан")
	}
	c.Local.Extensions = normalizeExtensions(c.Local.Extensions)
	if len(c.Local.Extensions) == 0 {
		return configError("local.extensions: список расширений пуст")
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Remote.Enabled {
		if c.Remote.UploadBackend == "" && len(c.Remote.Backends) == 1 {
			c.Remote.UploadBackend = c.Remote.Backends[0].ID
		}
		if c.Remote.UploadBackend == "" {
			return configError("remote.upload_backend: не задан backend для загрузки")
		}
	}
	if c.Remote.UploadBackend != "" {
		if _, ok := c.Remote.Backend(c.Remote.UploadBackend); !ok {
			return configError("remote.upload_backend: backend %q не найден", c.Remote.UploadBackend)
		}
	}

	for name, d := range map[string]time.Duration{
		"timeouts.operation": c.Timeouts.Operation,
		"timeouts.connect":   c.Timeouts.Connect,
		"timeouts.mount":     c.Timeouts.Mount,
	} {
		if d <= 0 {
			return configError("%s: значение должно быть положительным", name)
		}
	}

	if c.Schedule.Interval < 0 {
		return configError("schedule.interval: значение не может быть отрицательным")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return configError("server.port: значение %d вне допустимого диапазона 1-65535", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return configError("server.tls_cert и server.tls_key задаются вместе")
	}

	if c.Probe.CacheSize <= 0 {
		return configError("probe.cache_size: значение должно быть положительным")
	}

	return nil
}

// validateBackends проверяет список удалённых хранилищ.
func (c *Config) validateBackends() error {
	seen := make(map[string]bool, len(c.Remote.Backends))

	for i := range c.Remote.Backends {
		b := &c.Remote.Backends[i]
		if b.ID == "" {
			return configError("remote.backends[%d]: не задан id", i)
		}
		if b.ID == model.LocationLocal {
			return configError("remote.backends[%d]: id %q зарезервирован", i, b.ID)
		}
		if seen[b.ID] {
			return configError("remote.backends[%d]: повторяющийся id %q", i, b.ID)
		}
		seen[b.ID] = true

		switch b.Type {
		case BackendHTTPDAV:
			u, err := url.Parse(b.URL)
			if b.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return configError("remote.backends[%s].url: требуется корректный http(s) URL, получено %q", b.ID, b.URL)
			}
		case BackendTransferSession:
			if b.Host == "" {
				return configError("remote.backends[%s].host: обязательный параметр не задан", b.ID)
			}
			if b.Port == 0 {
				b.Port = 21
			}
			if b.Port < 1 || b.Port > 65535 {
				return configError("remote.backends[%s].port: значение %d вне диапазона 1-65535", b.ID, b.Port)
			}
			if !b.PassiveEnabled() {
				return configError("remote.backends[%s].passive_mode: активный режим FTP не поддерживается", b.ID)
			}
		case BackendMountedFS:
			if b.Server == "" {
				return configError("remote.backends[%s].server: обязательный параметр не задан", b.ID)
			}
			if b.MountPoint == "" {
				b.MountPoint = DefaultMountPoint
			}
			if !filepath.IsAbs(b.MountPoint) {
				return configError("remote.backends[%s].mount_point: требуется абсолютный путь, получено %q", b.ID, b.MountPoint)
			}
			b.MountPoint = filepath.Clean(b.MountPoint)
		default:
			return configError("remote.backends[%s].type: недопустимое значение %q, допустимые: http_dav, transfer_session, mounted_fs", b.ID, b.Type)
		}
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// CLI-команды пишут логи в stderr, чтобы stdout оставался для результатов.
func SetupLogger(cfg *Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// configError создаёт ConfigurationError с форматированным сообщением.
func configError(format string, args ...any) error {
	return model.New(model.KindConfiguration, "load_config", "", fmt.Sprintf(format, args...))
}

// normalizeExtensions приводит расширения к виду ".ext" в нижнем регистре.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
