package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Sync      SyncConfig      `yaml:"sync"`
	Risk      RiskConfig      `yaml:"risk"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	UseHTTPS bool   `yaml:"use_https"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// AllowedOrigins - origins для CORS и WebSocket (пусто = только не-браузерные клиенты для CORS, любые для WS)
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // postgres | sqlite3
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Name          string `yaml:"name"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SSLMode       string `yaml:"ssl_mode"`
	SQLitePath    string `yaml:"sqlite_path"`
	ListenChannel string `yaml:"listen_channel"` // канал LISTEN/NOTIFY для push-обновлений ("" = выключено)
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// EncryptionKey шифрует пароли терминала в БД.
	// Пустой ключ: учётные данные не сохраняются, восстановления при старте нет.
	EncryptionKey string `yaml:"encryption_key"`
}

// BridgeConfig - настройки HTTP-моста к терминалу
type BridgeConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // запросов в секунду на счёт
	RateBurst      int           `yaml:"rate_burst"`
	MagicNumber    int64         `yaml:"magic_number"`
}

// SyncConfig - настройки синхронизации
type SyncConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
	FailureThreshold  int           `yaml:"failure_threshold"` // подряд неудачных опросов до деградации
	PushBuffer        int           `yaml:"push_buffer"`
	EventBuffer       int           `yaml:"event_buffer"`
	ReconnectInitial  time.Duration `yaml:"reconnect_initial"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
}

// RiskConfig - параметры риска по умолчанию для новых счетов
type RiskConfig struct {
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	RiskPerTrade        float64 `yaml:"risk_per_trade"`
	CorrelationLimit    float64 `yaml:"correlation_limit"`
}

// SimulatorConfig - настройки локальной симуляции
type SimulatorConfig struct {
	Seed          int64   `yaml:"seed"` // 0 = от текущего времени
	DriftFraction float64 `yaml:"drift_fraction"`
	DemoBalance   float64 `yaml:"demo_balance"`
	Leverage      int     `yaml:"leverage"`
	Currency      string  `yaml:"currency"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	Development bool   `yaml:"development"`
}

// Load загружает конфигурацию из переменных окружения.
// Если задан CONFIG_FILE, поверх накладывается YAML-файл.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),

			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			Name:          getEnv("DB_NAME", "accountsync"),
			User:          getEnv("DB_USER", "user"),
			Password:      getEnv("DB_PASSWORD", "password"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:    getEnv("DB_SQLITE_PATH", "accountsync.db"),
			ListenChannel: getEnv("DB_LISTEN_CHANNEL", "account_events"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Bridge: BridgeConfig{
			BaseURL:        getEnv("BRIDGE_URL", "http://127.0.0.1:8000"),
			RequestTimeout: getEnvAsDuration("BRIDGE_TIMEOUT", 10*time.Second),
			RateLimit:      getEnvAsFloat("BRIDGE_RATE_LIMIT", 10),
			RateBurst:      getEnvAsInt("BRIDGE_RATE_BURST", 20),
			MagicNumber:    int64(getEnvAsInt("BRIDGE_MAGIC_NUMBER", 12345)),
		},
		Sync: SyncConfig{
			PollInterval:      getEnvAsDuration("SYNC_POLL_INTERVAL", 30*time.Second),
			ProbeInterval:     getEnvAsDuration("SYNC_PROBE_INTERVAL", 15*time.Second),
			FailureThreshold:  getEnvAsInt("SYNC_FAILURE_THRESHOLD", 3),
			PushBuffer:        getEnvAsInt("SYNC_PUSH_BUFFER", 64),
			EventBuffer:       getEnvAsInt("SYNC_EVENT_BUFFER", 256),
			ReconnectInitial:  getEnvAsDuration("SYNC_RECONNECT_INITIAL", 2*time.Second),
			ReconnectMaxDelay: getEnvAsDuration("SYNC_RECONNECT_MAX_DELAY", 2*time.Minute),
		},
		Risk: RiskConfig{
			MaxDailyLoss:        getEnvAsFloat("RISK_MAX_DAILY_LOSS", 500),
			MaxPositionSize:     getEnvAsFloat("RISK_MAX_POSITION_SIZE", 1.0),
			MaxConcurrentTrades: getEnvAsInt("RISK_MAX_CONCURRENT_TRADES", 5),
			RiskPerTrade:        getEnvAsFloat("RISK_PER_TRADE", 0.02),
			CorrelationLimit:    getEnvAsFloat("RISK_CORRELATION_LIMIT", 0.7),
		},
		Simulator: SimulatorConfig{
			Seed:          int64(getEnvAsInt("SIM_SEED", 0)),
			DriftFraction: getEnvAsFloat("SIM_DRIFT_FRACTION", 0.001),
			DemoBalance:   getEnvAsFloat("SIM_DEMO_BALANCE", 10000),
			Leverage:      getEnvAsInt("SIM_LEVERAGE", 100),
			Currency:      getEnv("SIM_CURRENCY", "USD"),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// overlayFile накладывает значения из YAML поверх уже загруженных.
// Отсутствующие в файле ключи не меняются.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ключ не обязателен, но если задан - только AES-256
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
	case "sqlite3":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required for sqlite3 driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver)
	}

	if c.Bridge.BaseURL == "" {
		return fmt.Errorf("BRIDGE_URL is required")
	}
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("BRIDGE_TIMEOUT must be positive, got %v", c.Bridge.RequestTimeout)
	}
	if c.Bridge.RateLimit < 0 {
		return fmt.Errorf("BRIDGE_RATE_LIMIT cannot be negative, got %v", c.Bridge.RateLimit)
	}

	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive, got %v", c.Sync.PollInterval)
	}
	if c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("SYNC_PROBE_INTERVAL must be positive, got %v", c.Sync.ProbeInterval)
	}
	if c.Sync.FailureThreshold < 1 {
		return fmt.Errorf("SYNC_FAILURE_THRESHOLD must be at least 1, got %d", c.Sync.FailureThreshold)
	}
	if c.Sync.PushBuffer < 1 || c.Sync.EventBuffer < 1 {
		return fmt.Errorf("SYNC_PUSH_BUFFER and SYNC_EVENT_BUFFER must be positive")
	}
	if c.Sync.ReconnectInitial <= 0 || c.Sync.ReconnectMaxDelay < c.Sync.ReconnectInitial {
		return fmt.Errorf("SYNC_RECONNECT_MAX_DELAY (%v) must be >= SYNC_RECONNECT_INITIAL (%v) > 0",
			c.Sync.ReconnectMaxDelay, c.Sync.ReconnectInitial)
	}

	if c.Risk.MaxDailyLoss < 0 {
		return fmt.Errorf("RISK_MAX_DAILY_LOSS cannot be negative, got %v", c.Risk.MaxDailyLoss)
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("RISK_MAX_POSITION_SIZE must be positive, got %v", c.Risk.MaxPositionSize)
	}
	if c.Risk.MaxConcurrentTrades < 1 {
		return fmt.Errorf("RISK_MAX_CONCURRENT_TRADES must be at least 1, got %d", c.Risk.MaxConcurrentTrades)
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("RISK_PER_TRADE must be in (0, 1], got %v", c.Risk.RiskPerTrade)
	}
	if c.Risk.CorrelationLimit < 0 || c.Risk.CorrelationLimit > 1 {
		return fmt.Errorf("RISK_CORRELATION_LIMIT must be in [0, 1], got %v", c.Risk.CorrelationLimit)
	}

	if c.Simulator.DriftFraction < 0 || c.Simulator.DriftFraction > 0.1 {
		return fmt.Errorf("SIM_DRIFT_FRACTION must be in [0, 0.1], got %v", c.Simulator.DriftFraction)
	}
	if c.Simulator.DemoBalance <= 0 {
		return fmt.Errorf("SIM_DEMO_BALANCE must be positive, got %v", c.Simulator.DemoBalance)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite3" {
		return d.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver == "sqlite3" {
		return d.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
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

// getEnvAsList читает список через запятую, пустые элементы пропускаются
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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
