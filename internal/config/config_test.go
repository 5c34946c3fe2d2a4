package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnvVars устанавливает переменные окружения для теста и возвращает
// функцию очистки. Всегда вызывать defer cleanup().
func setEnvVars(t *testing.T, vars map[string]string) func() {
	t.Helper()

	// Сохраняем оригинальные значения
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for k := range vars {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
	}

	// Устанавливаем новые
	for k, v := range vars {
		os.Setenv(k, v)
	}

	return func() {
		for k := range vars {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// clearAllCEEnvVars очищает все переменные окружения CE_* для чистого теста.
func clearAllCEEnvVars(t *testing.T) func() {
	t.Helper()
	keys := []string{
		"CE_PORT", "CE_ENGINE_ID", "CE_DATA_DIR", "CE_MAPPINGS_FILE",
		"CE_MANIFEST_FILE", "CE_CACHE_BUDGET", "CE_RETENTION_WINDOW",
		"CE_WORKERS", "CE_SAFETY_MARGIN", "CE_VERIFY_CHECKSUM",
		"CE_DRY_RUN", "CE_RUN_INTERVAL",
		"CE_MEDIA_INDEX_URL", "CE_MEDIA_INDEX_TOKEN", "CE_MEDIA_INDEX_CA_CERT",
		"CE_MEDIA_INDEX_TIMEOUT", "CE_SOURCE_CACHE_TTL",
		"CE_JWKS_URL", "CE_JWKS_CA_CERT", "CE_TLS_SKIP_VERIFY",
		"CE_JWKS_CLIENT_TIMEOUT", "CE_JWKS_REFRESH_INTERVAL", "CE_JWT_LEEWAY",
		"CE_TLS_CERT", "CE_TLS_KEY", "CE_LOG_LEVEL", "CE_LOG_FORMAT",
		"CE_SHUTDOWN_TIMEOUT", "CE_DEPHEALTH_CHECK_INTERVAL",
		"CE_DEPHEALTH_GROUP", "CE_DEPHEALTH_DEP_NAME",
	}
	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	return func() {
		for _, k := range keys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// requiredEnvVars возвращает минимальный набор обязательных переменных.
func requiredEnvVars() map[string]string {
	return map[string]string{
		"CE_ENGINE_ID":       "ce-test-01",
		"CE_DATA_DIR":        "/tmp/ce-data",
		"CE_MAPPINGS_FILE":   "/tmp/mappings.json",
		"CE_MANIFEST_FILE":   "/tmp/exclusions.txt",
		"CE_CACHE_BUDGET":    "107374182400", // 100 GB
		"CE_MEDIA_INDEX_URL": "http://media-index:32400",
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	cleanupVars := setEnvVars(t, requiredEnvVars())
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.RetentionWindow != 6*time.Hour {
		t.Errorf("RetentionWindow: ожидалось 6h, получено %v", cfg.RetentionWindow)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers: ожидалось 4, получено %d", cfg.Workers)
	}
	if cfg.SafetyMargin != 1073741824 {
		t.Errorf("SafetyMargin: ожидалось 1073741824, получено %d", cfg.SafetyMargin)
	}
	if cfg.VerifyChecksum {
		t.Error("VerifyChecksum: ожидалось false")
	}
	if cfg.DryRun {
		t.Error("DryRun: ожидалось false")
	}
	if cfg.RunInterval != 0 {
		t.Errorf("RunInterval: ожидалось 0 (ручной запуск), получено %v", cfg.RunInterval)
	}
	if cfg.MediaIndexTimeout != 30*time.Second {
		t.Errorf("MediaIndexTimeout: ожидалось 30s, получено %v", cfg.MediaIndexTimeout)
	}
	if cfg.SourceCacheTTL != time.Minute {
		t.Errorf("SourceCacheTTL: ожидалось 1m, получено %v", cfg.SourceCacheTTL)
	}
	if cfg.JWKSUrl != "" {
		t.Errorf("JWKSUrl: ожидалось пустую строку, получено %q", cfg.JWKSUrl)
	}
	if cfg.JWKSClientTimeout != 10*time.Second {
		t.Errorf("JWKSClientTimeout: ожидалось 10s, получено %v", cfg.JWKSClientTimeout)
	}
	if cfg.JWKSRefreshInterval != 5*time.Minute {
		t.Errorf("JWKSRefreshInterval: ожидалось 5m, получено %v", cfg.JWKSRefreshInterval)
	}
	if cfg.JWTLeeway != 30*time.Second {
		t.Errorf("JWTLeeway: ожидалось 30s, получено %v", cfg.JWTLeeway)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось 'json', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 5s, получено %v", cfg.ShutdownTimeout)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval: ожидалось 15s, получено %v", cfg.DephealthCheckInterval)
	}
	if cfg.DephealthGroup != "cache-engine" {
		t.Errorf("DephealthGroup: ожидалось 'cache-engine', получено %q", cfg.DephealthGroup)
	}
	if cfg.DephealthDepName != "media-index" {
		t.Errorf("DephealthDepName: ожидалось 'media-index', получено %q", cfg.DephealthDepName)
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CE_PORT"] = "9090"
	vars["CE_RETENTION_WINDOW"] = "12h"
	vars["CE_WORKERS"] = "8"
	vars["CE_SAFETY_MARGIN"] = "536870912"
	vars["CE_VERIFY_CHECKSUM"] = "true"
	vars["CE_DRY_RUN"] = "true"
	vars["CE_RUN_INTERVAL"] = "1h"
	vars["CE_MEDIA_INDEX_TOKEN"] = "secret-token"
	vars["CE_MEDIA_INDEX_TIMEOUT"] = "10s"
	vars["CE_SOURCE_CACHE_TTL"] = "5m"
	vars["CE_JWKS_URL"] = "https://auth.example.com/.well-known/jwks.json"
	vars["CE_LOG_LEVEL"] = "debug"
	vars["CE_LOG_FORMAT"] = "text"
	vars["CE_SHUTDOWN_TIMEOUT"] = "10s"
	vars["CE_DEPHEALTH_CHECK_INTERVAL"] = "5s"
	vars["CE_DEPHEALTH_GROUP"] = "media"
	vars["CE_DEPHEALTH_DEP_NAME"] = "plex"

	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port: ожидалось 9090, получено %d", cfg.Port)
	}
	if cfg.EngineID != "ce-test-01" {
		t.Errorf("EngineID: ожидалось 'ce-test-01', получено %q", cfg.EngineID)
	}
	if cfg.CacheBudget != 107374182400 {
		t.Errorf("CacheBudget: ожидалось 107374182400, получено %d", cfg.CacheBudget)
	}
	if cfg.RetentionWindow != 12*time.Hour {
		t.Errorf("RetentionWindow: ожидалось 12h, получено %v", cfg.RetentionWindow)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers: ожидалось 8, получено %d", cfg.Workers)
	}
	if cfg.SafetyMargin != 536870912 {
		t.Errorf("SafetyMargin: ожидалось 536870912, получено %d", cfg.SafetyMargin)
	}
	if !cfg.VerifyChecksum {
		t.Error("VerifyChecksum: ожидалось true")
	}
	if !cfg.DryRun {
		t.Error("DryRun: ожидалось true")
	}
	if cfg.RunInterval != time.Hour {
		t.Errorf("RunInterval: ожидалось 1h, получено %v", cfg.RunInterval)
	}
	if cfg.MediaIndexToken != "secret-token" {
		t.Errorf("MediaIndexToken: ожидалось 'secret-token', получено %q", cfg.MediaIndexToken)
	}
	if cfg.MediaIndexTimeout != 10*time.Second {
		t.Errorf("MediaIndexTimeout: ожидалось 10s, получено %v", cfg.MediaIndexTimeout)
	}
	if cfg.SourceCacheTTL != 5*time.Minute {
		t.Errorf("SourceCacheTTL: ожидалось 5m, получено %v", cfg.SourceCacheTTL)
	}
	if cfg.JWKSUrl != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("JWKSUrl: получено %q", cfg.JWKSUrl)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel: ожидалось DEBUG, получено %v", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat: ожидалось 'text', получено %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %v", cfg.ShutdownTimeout)
	}
	if cfg.DephealthCheckInterval != 5*time.Second {
		t.Errorf("DephealthCheckInterval: ожидалось 5s, получено %v", cfg.DephealthCheckInterval)
	}
	if cfg.DephealthGroup != "media" {
		t.Errorf("DephealthGroup: ожидалось 'media', получено %q", cfg.DephealthGroup)
	}
	if cfg.DephealthDepName != "plex" {
		t.Errorf("DephealthDepName: ожидалось 'plex', получено %q", cfg.DephealthDepName)
	}
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	requiredKeys := []string{
		"CE_ENGINE_ID", "CE_DATA_DIR", "CE_MAPPINGS_FILE",
		"CE_MANIFEST_FILE", "CE_CACHE_BUDGET", "CE_MEDIA_INDEX_URL",
	}

	for _, missing := range requiredKeys {
		t.Run(missing, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			delete(vars, missing)
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"нулевой", "0"},
		{"выше диапазона", "70000"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CE_PORT"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CE_PORT=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidCacheBudget(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"не число", "abc"},
		{"нулевое", "0"},
		{"отрицательное", "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CE_CACHE_BUDGET"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CE_CACHE_BUDGET=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidWorkers(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"нулевое", "0"},
		{"отрицательное", "-2"},
		{"не число", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CE_WORKERS"] = tt.value
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для CE_WORKERS=%s", tt.value)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	durationVars := []string{
		"CE_RETENTION_WINDOW", "CE_RUN_INTERVAL",
		"CE_MEDIA_INDEX_TIMEOUT", "CE_SOURCE_CACHE_TTL",
		"CE_JWKS_CLIENT_TIMEOUT", "CE_JWKS_REFRESH_INTERVAL",
		"CE_JWT_LEEWAY", "CE_SHUTDOWN_TIMEOUT",
		"CE_DEPHEALTH_CHECK_INTERVAL",
	}

	for _, varName := range durationVars {
		t.Run(varName, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars[varName] = "not-a-duration"
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для невалидного %s", varName)
			}
		})
	}
}

func TestLoad_InvalidBool(t *testing.T) {
	boolVars := []string{"CE_VERIFY_CHECKSUM", "CE_DRY_RUN", "CE_TLS_SKIP_VERIFY"}

	for _, varName := range boolVars {
		t.Run(varName, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars[varName] = "maybe"
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			_, err := Load()
			if err == nil {
				t.Errorf("ожидалась ошибка для невалидного %s", varName)
			}
		})
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CE_LOG_LEVEL"] = "invalid"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного CE_LOG_LEVEL")
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CE_LOG_FORMAT"] = "yaml"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка для невалидного CE_LOG_FORMAT")
	}
}

func TestLoad_TLSCertWithoutKey(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	vars := requiredEnvVars()
	vars["CE_TLS_CERT"] = "/tmp/tls.crt"
	cleanupVars := setEnvVars(t, vars)
	defer cleanupVars()

	_, err := Load()
	if err == nil {
		t.Error("ожидалась ошибка: CE_TLS_CERT без CE_TLS_KEY")
	}
}

func TestLoad_ValidLogLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cleanup := clearAllCEEnvVars(t)
			defer cleanup()

			vars := requiredEnvVars()
			vars["CE_LOG_LEVEL"] = tt.input
			cleanupVars := setEnvVars(t, vars)
			defer cleanupVars()

			cfg, err := Load()
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if cfg.LogLevel != tt.expected {
				t.Errorf("LogLevel: ожидалось %v, получено %v", tt.expected, cfg.LogLevel)
			}
		})
	}
}

func TestStateAndLockFilePaths(t *testing.T) {
	cleanup := clearAllCEEnvVars(t)
	defer cleanup()

	cleanupVars := setEnvVars(t, requiredEnvVars())
	defer cleanupVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.StateFile() != "/tmp/ce-data/cache_state.json" {
		t.Errorf("StateFile: получено %q", cfg.StateFile())
	}
	if cfg.LockFile() != "/tmp/ce-data/cache-engine.lock" {
		t.Errorf("LockFile: получено %q", cfg.LockFile())
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Fatal("SetupLogger вернул nil")
			}
		})
	}
}

// --- Тесты LoadMappings ---

func writeMappingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("ошибка записи файла маппингов: %v", err)
	}
	return path
}

func TestLoadMappings(t *testing.T) {
	path := writeMappingsFile(t, `[
		{
			"name": "movies",
			"logical_root": "/lib/Movies",
			"engine_root": "/mnt/archive/Movies",
			"cache_root": "/mnt/cache/Movies",
			"external_cache_root": "/mnt/cache2/Movies",
			"cacheable": true,
			"enabled": true
		}
	]`)

	mappings, err := LoadMappings(path)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("хотели 1 маппинг, получили %d", len(mappings))
	}
	m := mappings[0]
	if m.Name != "movies" || m.LogicalRoot != "/lib/Movies" || !m.Cacheable || !m.Enabled {
		t.Errorf("маппинг разобран неверно: %+v", m)
	}
	if m.ExternalCacheRoot != "/mnt/cache2/Movies" {
		t.Errorf("ExternalCacheRoot: получено %q", m.ExternalCacheRoot)
	}
}

func TestLoadMappings_MissingFile(t *testing.T) {
	if _, err := LoadMappings("/nonexistent/mappings.json"); err == nil {
		t.Error("ожидалась ошибка для отсутствующего файла")
	}
}

func TestLoadMappings_InvalidJSON(t *testing.T) {
	path := writeMappingsFile(t, `{not json`)
	if _, err := LoadMappings(path); err == nil {
		t.Error("ожидалась ошибка для битого JSON")
	}
}

func TestLoadMappings_EmptyList(t *testing.T) {
	path := writeMappingsFile(t, `[]`)
	if _, err := LoadMappings(path); err == nil {
		t.Error("ожидалась ошибка для пустого списка маппингов")
	}
}
