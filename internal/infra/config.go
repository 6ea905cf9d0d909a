package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации движка.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	BNPL     BNPLConfig     `mapstructure:"bnpl"`
	Webhooks WebhookConfig  `mapstructure:"webhooks"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GRPCConfig — порт внутреннего gRPC API (0 — выключен).
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig описывает подключение к PostgreSQL. Пустой URL — хранилища в памяти.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, блокировки, счетчики).
// Пустой Addr — локальные блокировки и счетчики в памяти.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит ключ проверки JWT вызывающих сторон и секрет credential-токенов.
type AuthConfig struct {
	PublicKeyPath    string        `mapstructure:"public_key_path"`
	CredentialSecret string        `mapstructure:"credential_secret"`
	CredentialTTL    time.Duration `mapstructure:"credential_ttl"`
	PublicKey        []byte
}

// EngineConfig — параметры оркестратора платежей.
type EngineConfig struct {
	Currency         string            `mapstructure:"currency"`
	CartTTL          time.Duration     `mapstructure:"cart_ttl"`
	ApprovalTTL      time.Duration     `mapstructure:"approval_ttl"`
	EventBufferSize  int               `mapstructure:"event_buffer_size"`
	EventFlushPeriod time.Duration     `mapstructure:"event_flush_interval"`
	VerifyMerchants  bool              `mapstructure:"verify_merchants"`
	MerchantSecrets  map[string]string `mapstructure:"merchant_secrets"`
}

// LedgerConfig — устойчивость вызовов кредитного леджера.
type LedgerConfig struct {
	RateLimit     float64       `mapstructure:"rate_limit"` // запросов в секунду
	RateBurst     int           `mapstructure:"rate_burst"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`

	// Настройки Circuit Breaker
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// BNPLConfig — параметры расчета планов.
type BNPLConfig struct {
	SettlementOffsetDays int   `mapstructure:"settlement_offset_days"`
	RateBps              int64 `mapstructure:"rate_bps"`
}

// WebhookConfig — доставка событий платежей подписчикам.
type WebhookConfig struct {
	URLs      []string      `mapstructure:"urls"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Attempts  uint          `mapstructure:"attempts"`
	QueueSize int           `mapstructure:"queue_size"`
}

// SeedConfig — стартовые данные симулятора кредитного контракта и справочника аккаунтов.
type SeedConfig struct {
	Merchants []string      `mapstructure:"merchants"`
	Accounts  []SeedAccount `mapstructure:"accounts"`
}

type SeedAccount struct {
	UserID      string       `mapstructure:"user_id"`
	Email       string       `mapstructure:"email"`
	BorrowerID  string       `mapstructure:"borrower_id"`
	DeviceID    string       `mapstructure:"device_id"`
	CreditLimit string       `mapstructure:"credit_limit"` // "5000.00"
	Methods     []SeedMethod `mapstructure:"payment_methods"`
}

type SeedMethod struct {
	Type   string `mapstructure:"type"`
	Alias  string `mapstructure:"alias"`
	PlanID string `mapstructure:"plan_id"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. PEM-ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	if secret := os.Getenv("AUTH_CREDENTIAL_SECRET_DATA"); secret != "" {
		cfg.Auth.CredentialSecret = secret
	}
	if cfg.Auth.CredentialSecret == "" {
		return nil, errors.New("auth.credential_secret is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("grpc.port", 0)
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.credential_secret", "")
	v.SetDefault("auth.credential_ttl", time.Hour)
	v.SetDefault("engine.currency", "USD")
	v.SetDefault("engine.cart_ttl", 30*time.Minute)
	v.SetDefault("engine.approval_ttl", 30*time.Minute)
	v.SetDefault("engine.event_buffer_size", 1000)
	v.SetDefault("engine.event_flush_interval", 1*time.Second)
	v.SetDefault("ledger.rate_limit", 50.0)
	v.SetDefault("ledger.rate_burst", 10)
	v.SetDefault("ledger.retry_attempts", 3)
	v.SetDefault("ledger.retry_delay", 100*time.Millisecond)
	v.SetDefault("ledger.retry_max_delay", 2*time.Second)
	v.SetDefault("ledger.cb_max_requests", 1)
	v.SetDefault("ledger.cb_interval", 10*time.Second)
	v.SetDefault("ledger.cb_timeout", 30*time.Second)
	v.SetDefault("bnpl.settlement_offset_days", 30)
	v.SetDefault("bnpl.rate_bps", 599)
	v.SetDefault("webhooks.timeout", 5*time.Second)
	v.SetDefault("webhooks.attempts", 5)
	v.SetDefault("webhooks.queue_size", 256)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ из ENV (PEM) или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
