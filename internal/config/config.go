// Пакет config — загрузка и валидация конфигурации Cache Engine
// из переменных окружения.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/mediacache/cache-engine/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Cache Engine.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уникальный идентификатор экземпляра (например, "ce-home-01")
	EngineID string
	// Путь к директории служебных данных (таблица кэша, lock-файл)
	DataDir string
	// Путь к JSON-файлу с маппингами путей; перечитывается перед каждым проходом
	MappingsFile string
	// Путь к файлу манифеста исключений — публичный контракт с внешним mover
	ManifestFile string
	// Бюджет кэш-яруса в байтах (обязательный параметр)
	CacheBudget int64
	// Окно удержания нерелевантного файла в кэше
	RetentionWindow time.Duration
	// Размер пула воркеров перемещений
	Workers int
	// Запас свободного места при проверке перед продвижением
	SafetyMargin int64
	// Сверять sha256 при межтомовом копировании
	VerifyChecksum bool
	// Выполнять проходы без изменений файловой системы
	DryRun bool
	// Интервал плановых проходов; 0 — только ручной запуск
	RunInterval time.Duration

	// Базовый URL медиа-индекса (поставщик кандидатов)
	MediaIndexURL string
	// Токен доступа к медиа-индексу (опционально)
	MediaIndexToken string
	// Путь к CA-сертификату медиа-индекса (опционально)
	MediaIndexCACert string
	// Таймаут запросов к медиа-индексу
	MediaIndexTimeout time.Duration
	// Время жизни кэша ответов медиа-индекса
	SourceCacheTTL time.Duration

	// URL JWKS endpoint для JWT-аутентификации API (пустая строка — без аутентификации)
	JWKSUrl string
	// Путь к CA-сертификату для проверки TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Пропускать проверку TLS-сертификатов JWKS
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Путь к TLS сертификату HTTP-сервера (опционально)
	TLSCert string
	// Путь к TLS приватному ключу HTTP-сервера (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (CE_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости (целевого сервиса) в метриках topologymetrics (CE_DEPHEALTH_DEP_NAME)
	DephealthDepName string
}

// StateFile возвращает путь к файлу таблицы кэша.
func (c *Config) StateFile() string {
	return filepath.Join(c.DataDir, "cache_state.json")
}

// LockFile возвращает путь к lock-файлу единственного экземпляра.
func (c *Config) LockFile() string {
	return filepath.Join(c.DataDir, "cache-engine.lock")
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// CE_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CE_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CE_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CE_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// CE_ENGINE_ID — обязательный
	cfg.EngineID, err = getEnvRequired("CE_ENGINE_ID")
	if err != nil {
		return nil, err
	}

	// CE_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("CE_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// CE_MAPPINGS_FILE — обязательный
	cfg.MappingsFile, err = getEnvRequired("CE_MAPPINGS_FILE")
	if err != nil {
		return nil, err
	}

	// CE_MANIFEST_FILE — обязательный: контракт с внешним mover задаётся явно
	cfg.ManifestFile, err = getEnvRequired("CE_MANIFEST_FILE")
	if err != nil {
		return nil, err
	}

	// CE_CACHE_BUDGET — обязательный, бюджет кэш-яруса в байтах
	cfg.CacheBudget, err = getEnvInt64Required("CE_CACHE_BUDGET")
	if err != nil {
		return nil, err
	}

	// CE_RETENTION_WINDOW — окно удержания (по умолчанию 6h)
	cfg.RetentionWindow, err = getEnvDuration("CE_RETENTION_WINDOW", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CE_RETENTION_WINDOW: %w", err)
	}

	// CE_WORKERS — пул воркеров (по умолчанию 4: баланс I/O ярусов, не CPU)
	cfg.Workers, err = getEnvInt("CE_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("CE_WORKERS: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("CE_WORKERS: значение должно быть положительным, получено %d", cfg.Workers)
	}

	// CE_SAFETY_MARGIN — запас свободного места (по умолчанию 1 GB)
	cfg.SafetyMargin, err = getEnvInt64("CE_SAFETY_MARGIN", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("CE_SAFETY_MARGIN: %w", err)
	}
	if cfg.SafetyMargin < 0 {
		return nil, fmt.Errorf("CE_SAFETY_MARGIN: значение не может быть отрицательным")
	}

	// CE_VERIFY_CHECKSUM — сверка sha256 при межтомовом копировании (по умолчанию false)
	cfg.VerifyChecksum, err = getEnvBool("CE_VERIFY_CHECKSUM", false)
	if err != nil {
		return nil, fmt.Errorf("CE_VERIFY_CHECKSUM: %w", err)
	}

	// CE_DRY_RUN — режим без изменений (по умолчанию false)
	cfg.DryRun, err = getEnvBool("CE_DRY_RUN", false)
	if err != nil {
		return nil, fmt.Errorf("CE_DRY_RUN: %w", err)
	}

	// CE_RUN_INTERVAL — интервал плановых проходов (по умолчанию 0 — вручную)
	cfg.RunInterval, err = getEnvDuration("CE_RUN_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("CE_RUN_INTERVAL: %w", err)
	}

	// CE_MEDIA_INDEX_URL — обязательный
	cfg.MediaIndexURL, err = getEnvRequired("CE_MEDIA_INDEX_URL")
	if err != nil {
		return nil, err
	}

	// CE_MEDIA_INDEX_TOKEN — токен доступа (опционально)
	cfg.MediaIndexToken = getEnvDefault("CE_MEDIA_INDEX_TOKEN", "")

	// CE_MEDIA_INDEX_CA_CERT — CA-сертификат медиа-индекса (опционально)
	cfg.MediaIndexCACert = getEnvDefault("CE_MEDIA_INDEX_CA_CERT", "")

	// CE_MEDIA_INDEX_TIMEOUT — таймаут запросов (по умолчанию 30s)
	cfg.MediaIndexTimeout, err = getEnvDuration("CE_MEDIA_INDEX_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_MEDIA_INDEX_TIMEOUT: %w", err)
	}

	// CE_SOURCE_CACHE_TTL — время жизни кэша ответов (по умолчанию 1m)
	cfg.SourceCacheTTL, err = getEnvDuration("CE_SOURCE_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CE_SOURCE_CACHE_TTL: %w", err)
	}

	// CE_JWKS_URL — JWT-аутентификация API (опционально)
	cfg.JWKSUrl = getEnvDefault("CE_JWKS_URL", "")

	// CE_JWKS_CA_CERT — CA-сертификат JWKS endpoint (опционально)
	cfg.JWKSCACert = getEnvDefault("CE_JWKS_CA_CERT", "")

	// CE_TLS_SKIP_VERIFY — пропуск проверки TLS-сертификатов JWKS (по умолчанию false)
	cfg.TLSSkipVerify, err = getEnvBool("CE_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("CE_TLS_SKIP_VERIFY: %w", err)
	}

	// CE_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("CE_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// CE_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 5m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("CE_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CE_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// CE_JWT_LEEWAY — отклонение времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("CE_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_JWT_LEEWAY: %w", err)
	}

	// CE_TLS_CERT / CE_TLS_KEY — TLS HTTP-сервера (опционально, вместе)
	cfg.TLSCert = getEnvDefault("CE_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("CE_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("CE_TLS_CERT и CE_TLS_KEY должны задаваться вместе")
	}

	// CE_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CE_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CE_LOG_LEVEL: %w", err)
	}

	// CE_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("CE_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CE_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// CE_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("CE_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_SHUTDOWN_TIMEOUT: %w", err)
	}

	// CE_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("CE_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CE_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// CE_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "cache-engine")
	cfg.DephealthGroup = getEnvDefault("CE_DEPHEALTH_GROUP", "cache-engine")

	// CE_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics (по умолчанию "media-index")
	cfg.DephealthDepName = getEnvDefault("CE_DEPHEALTH_DEP_NAME", "media-index")

	return cfg, nil
}

// LoadMappings читает маппинги путей из JSON-файла.
// Вызывается перед каждым проходом: правки файла подхватываются
// без перезапуска процесса.
func LoadMappings(path string) ([]model.PathMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла маппингов %s: %w", path, err)
	}

	var mappings []model.PathMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("разбор файла маппингов %s: %w", path, err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("файл маппингов %s пуст", path)
	}
	return mappings, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64Required возвращает обязательное int64 значение переменной окружения.
// Возвращает ошибку, если переменная не задана или значение некорректное (<=0).
func getEnvInt64Required(key string) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", key, val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
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
