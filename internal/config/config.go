package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"firisync/pkg/crypto"
	"firisync/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Firi     FiriConfig
	Sync     SyncConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey - 64 hex символа (32 байта AES-256)
	EncryptionKey string
	// APITokenHash - bcrypt хеш сервисного токена, пусто = без проверки
	APITokenHash string
}

// FiriConfig - параметры API биржи
type FiriConfig struct {
	BaseURL           string
	SignatureValidity int // секунды, 1..3600
	HTTPTimeout       time.Duration

	// Лимиты запросов
	RateLimit   int
	RateWindow  time.Duration
	MinInterval time.Duration
	// RateScope: "global" - один лимитер на процесс, "credential" - на API ключ
	RateScope string

	// Retry
	MaxRetries        int
	RetryBase         time.Duration
	RetryMaxDelay     time.Duration
	RateLimitCooldown time.Duration
}

// SyncConfig - параметры синхронизации
type SyncConfig struct {
	BatchSize         int
	MaxPages          int
	MarketCacheTTL    time.Duration
	ConcurrentStreams bool
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "firisync"),
			User:            getEnv("DB_USER", "user"),
			Password:        getEnv("DB_PASSWORD", "password"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrateOnStart:  getEnvAsBool("DB_MIGRATE", true),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Firi: FiriConfig{
			BaseURL:           strings.TrimRight(getEnv("FIRI_BASE_URL", "https://api.firi.com"), "/"),
			SignatureValidity: getEnvAsInt("FIRI_SIGNATURE_VALIDITY", 60),
			HTTPTimeout:       getEnvAsDuration("FIRI_HTTP_TIMEOUT", 30*time.Second),

			RateLimit:   getEnvAsInt("FIRI_RATE_LIMIT", 6),
			RateWindow:  getEnvAsDuration("FIRI_RATE_WINDOW", time.Second),
			MinInterval: getEnvAsDuration("FIRI_MIN_INTERVAL", 150*time.Millisecond),
			RateScope:   strings.ToLower(getEnv("FIRI_RATE_SCOPE", "credential")),

			MaxRetries:        getEnvAsInt("FIRI_MAX_RETRIES", 4),
			RetryBase:         getEnvAsDuration("FIRI_RETRY_BASE", 500*time.Millisecond),
			RetryMaxDelay:     getEnvAsDuration("FIRI_RETRY_MAX_DELAY", 10*time.Second),
			RateLimitCooldown: getEnvAsDuration("FIRI_RATE_LIMIT_COOLDOWN", time.Second),
		},
		Sync: SyncConfig{
			BatchSize:         getEnvAsInt("SYNC_BATCH_SIZE", 100),
			MaxPages:          getEnvAsInt("SYNC_MAX_PAGES", 1000),
			MarketCacheTTL:    getEnvAsDuration("MARKET_CACHE_TTL", 10*time.Minute),
			ConcurrentStreams: getEnvAsBool("SYNC_CONCURRENT_STREAMS", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен: без него секреты бирж не расшифровать
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting exchange secrets")
	}

	if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be a 64-character hex string (32 bytes for AES-256)")
	}

	if c.Security.APITokenHash != "" && !crypto.IsValidHash(c.Security.APITokenHash) {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if err := utils.ValidateValidity(c.Firi.SignatureValidity); err != nil {
		return fmt.Errorf("FIRI_SIGNATURE_VALIDITY: %w, got %d", err, c.Firi.SignatureValidity)
	}

	// Подпись старше окна валидности биржа всё равно отклонит
	if c.Firi.HTTPTimeout <= 0 {
		return fmt.Errorf("FIRI_HTTP_TIMEOUT must be positive, got %v", c.Firi.HTTPTimeout)
	}
	if ceiling := time.Duration(c.Firi.SignatureValidity) * time.Second; c.Firi.HTTPTimeout > ceiling {
		c.Firi.HTTPTimeout = ceiling
	}

	if c.Firi.RateLimit < 1 {
		return fmt.Errorf("FIRI_RATE_LIMIT must be positive, got %d", c.Firi.RateLimit)
	}
	if c.Firi.RateWindow <= 0 {
		return fmt.Errorf("FIRI_RATE_WINDOW must be positive, got %v", c.Firi.RateWindow)
	}
	if c.Firi.MinInterval < 0 {
		return fmt.Errorf("FIRI_MIN_INTERVAL cannot be negative, got %v", c.Firi.MinInterval)
	}
	if c.Firi.RateScope != "global" && c.Firi.RateScope != "credential" {
		return fmt.Errorf("FIRI_RATE_SCOPE must be global or credential, got %q", c.Firi.RateScope)
	}

	if c.Firi.MaxRetries < 0 {
		return fmt.Errorf("FIRI_MAX_RETRIES cannot be negative, got %d", c.Firi.MaxRetries)
	}
	if c.Firi.MaxRetries > 10 {
		return fmt.Errorf("FIRI_MAX_RETRIES should not exceed 10, got %d", c.Firi.MaxRetries)
	}
	if c.Firi.RetryBase <= 0 || c.Firi.RetryMaxDelay < c.Firi.RetryBase {
		return fmt.Errorf("FIRI_RETRY_BASE must be positive and not exceed FIRI_RETRY_MAX_DELAY")
	}

	if err := utils.ValidateBatchSize(c.Sync.BatchSize); err != nil {
		return fmt.Errorf("SYNC_BATCH_SIZE: %w, got %d", err, c.Sync.BatchSize)
	}
	if c.Sync.MaxPages < 1 {
		return fmt.Errorf("SYNC_MAX_PAGES must be positive, got %d", c.Sync.MaxPages)
	}
	if c.Sync.MarketCacheTTL <= 0 {
		return fmt.Errorf("MARKET_CACHE_TTL must be positive, got %v", c.Sync.MarketCacheTTL)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
