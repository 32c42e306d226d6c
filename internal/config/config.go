// Пакет config — загрузка и валидация конфигурации Open Archiver
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/open-archiver/internal/storage/s3sink"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации HTTP-сервиса архива.
type Config struct {
	// --- Архив ---

	// Корневой каталог архива (обязательный)
	ArchiveRoot string
	// Создать архив при первом запуске, если archive.json отсутствует
	ArchiveAutoInit bool
	// Имя архива для автоматической инициализации
	ArchiveName string

	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к TLS сертификату (опционально, вместе с TLSKey)
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Движок ---

	// Число параллельных воркеров пакетного приёма
	IngestWorkers int
	// Число воркеров проверки целостности
	VerifyWorkers int
	// Интервал фоновой проверки целостности (0 — отключена)
	VerifyInterval time.Duration
	// Размер LRU-кэша sidecar-файлов
	CacheSize int
	// TTL записей кэша
	CacheTTL time.Duration
	// Максимальный limit поискового запроса
	SearchMaxLimit int

	// --- Аутентификация ---

	// URL JWKS endpoint (пустой — аутентификация отключена)
	JWKSUrl string
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке JWT
	JWTLeeway time.Duration
	// Пропуск проверки TLS для JWKS endpoint
	TLSSkipVerify bool
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// --- Публикация экспорта ---

	S3 s3sink.Config
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Архив ---

	// OA_ARCHIVE_ROOT — обязательный
	cfg.ArchiveRoot, err = getEnvRequired("OA_ARCHIVE_ROOT")
	if err != nil {
		return nil, err
	}

	// OA_ARCHIVE_AUTO_INIT — создать архив при отсутствии (по умолчанию false)
	cfg.ArchiveAutoInit, err = getEnvBool("OA_ARCHIVE_AUTO_INIT", false)
	if err != nil {
		return nil, fmt.Errorf("OA_ARCHIVE_AUTO_INIT: %w", err)
	}
	cfg.ArchiveName = getEnvDefault("OA_ARCHIVE_NAME", "Open Archiver")

	// --- Сервер ---

	// OA_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("OA_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("OA_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("OA_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// OA_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("OA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("OA_LOG_LEVEL: %w", err)
	}

	// OA_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("OA_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("OA_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// OA_TLS_CERT / OA_TLS_KEY — задаются только вместе
	cfg.TLSCert = getEnvDefault("OA_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("OA_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("OA_TLS_CERT и OA_TLS_KEY должны быть заданы вместе")
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("OA_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_HTTP_READ_TIMEOUT: %w", err)
	}
	// Экспорт и пакетный приём выполняются синхронно в запросе
	cfg.HTTPWriteTimeout, err = getEnvDuration("OA_HTTP_WRITE_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("OA_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("OA_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("OA_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Движок ---

	// OA_INGEST_WORKERS — воркеры пакетного приёма (по умолчанию 4)
	cfg.IngestWorkers, err = getEnvPositiveInt("OA_INGEST_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	// OA_VERIFY_WORKERS — воркеры проверки целостности (по умолчанию 4)
	cfg.VerifyWorkers, err = getEnvPositiveInt("OA_VERIFY_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	// OA_VERIFY_INTERVAL — интервал фоновой проверки (по умолчанию 0, отключена)
	cfg.VerifyInterval, err = getEnvDuration("OA_VERIFY_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("OA_VERIFY_INTERVAL: %w", err)
	}
	if cfg.VerifyInterval < 0 {
		return nil, fmt.Errorf("OA_VERIFY_INTERVAL: значение не может быть отрицательным")
	}

	// OA_CACHE_SIZE — размер кэша sidecar-файлов (по умолчанию 1000)
	cfg.CacheSize, err = getEnvPositiveInt("OA_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	// OA_CACHE_TTL — TTL кэша (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("OA_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("OA_CACHE_TTL: %w", err)
	}

	// OA_SEARCH_MAX_LIMIT — максимальный размер страницы (по умолчанию 1000)
	cfg.SearchMaxLimit, err = getEnvPositiveInt("OA_SEARCH_MAX_LIMIT", 1000)
	if err != nil {
		return nil, err
	}

	// --- Аутентификация ---

	// OA_JWKS_URL — опциональный, включает проверку JWT
	cfg.JWKSUrl = getEnvDefault("OA_JWKS_URL", "")

	cfg.JWKSRefreshInterval, err = getEnvDuration("OA_JWKS_REFRESH_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("OA_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_JWT_LEEWAY: %w", err)
	}
	cfg.TLSSkipVerify, err = getEnvBool("OA_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("OA_TLS_SKIP_VERIFY: %w", err)
	}
	cfg.DephealthCheckInterval, err = getEnvDuration("OA_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("OA_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("OA_DEPHEALTH_GROUP", "open-archiver")

	// --- Публикация экспорта ---

	cfg.S3, err = LoadS3()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadS3 загружает параметры публикации экспорта (OA_S3_*).
// Используется сервисом и CLI.
func LoadS3() (s3sink.Config, error) {
	cfg := s3sink.Config{
		Endpoint:  getEnvDefault("OA_S3_ENDPOINT", ""),
		Region:    getEnvDefault("OA_S3_REGION", "us-east-1"),
		Bucket:    getEnvDefault("OA_S3_BUCKET", ""),
		AccessKey: getEnvDefault("OA_S3_ACCESS_KEY", ""),
		SecretKey: getEnvDefault("OA_S3_SECRET_KEY", ""),
		Prefix:    strings.Trim(getEnvDefault("OA_S3_PREFIX", "exports"), "/"),
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return s3sink.Config{}, fmt.Errorf("OA_S3_ACCESS_KEY и OA_S3_SECRET_KEY должны быть заданы вместе")
	}
	return cfg, nil
}

// TLSEnabled — заданы ли сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// AuthEnabled — включена ли проверка JWT.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	return NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat, true)
}

// NewLogger создаёт логгер с выводом в w. При setDefault логгер
// устанавливается глобальным.
func NewLogger(w io.Writer, level slog.Level, format string, setDefault bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if setDefault {
		slog.SetDefault(logger)
	}
	return logger
}

// ParseLogLevel преобразует строку уровня логирования в slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	return parseLogLevel(level)
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

// getEnvPositiveInt — getEnvInt с проверкой n > 0. Ошибка уже содержит имя переменной.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
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
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
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
