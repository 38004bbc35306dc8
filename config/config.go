package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	InstanceID string
	Storage    string
	Server     ServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Admission  AdmissionConfig
	JWT        JWTConfig
	Log        LogConfig
	Kafka      KafkaConfig
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type ServerConfig struct {
	HTTPPort     int
	GRpcPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectRetries  int
	RetryInterval   time.Duration
	AutoMigrate     bool
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

type AdmissionConfig struct {
	TickInterval       time.Duration
	ExpiryScanInterval time.Duration
	LimitScanInterval  time.Duration
	ResyncInterval     time.Duration
	SessionWindow      time.Duration
	ExtensionStep      time.Duration
	MaxExtensions      int
	GraceWindow        time.Duration
	LeaseTTL           time.Duration
	ScanBatchSize      int
	NotifyTimeout      time.Duration
	RetryAttempts      int
	RetryDelay         time.Duration
}

type KafkaConfig struct {
	Brokers              []string
	ProducerRetryMax     int
	ProducerRequiredAcks int
	Enabled              bool
	ConsumerGroupID      string
}

// JWTConfig signs checkout tokens. Tokens live as long as their session window.
type JWTConfig struct {
	Secret string
}

type LogConfig struct {
	Level    string
	Mode     string
	Encoding string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Env:        getEnv("ENV", "development"),
		InstanceID: getEnv("INSTANCE_ID", defaultInstanceID()),
		Storage:    getEnv("STORAGE_DRIVER", StoragePostgres),
		Server: ServerConfig{
			HTTPPort:     getEnvAsInt("SERVER_HTTP_PORT", 8080),
			GRpcPort:     getEnvAsInt("SERVER_GRPC_PORT", 50056),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:        getEnv("POSTGRES_DB", "ticketbottle"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:        int32(getEnvAsInt("POSTGRES_MAX_CONNS", 20)),
			MinConns:        int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvAsDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
			ConnectRetries:  getEnvAsInt("POSTGRES_CONNECT_RETRIES", 5),
			RetryInterval:   getEnvAsDuration("POSTGRES_RETRY_INTERVAL", 2*time.Second),
			AutoMigrate:     getEnvAsBool("POSTGRES_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 5),
		},
		Admission: AdmissionConfig{
			TickInterval:       getEnvAsDuration("ADMISSION_TICK_INTERVAL", 30*time.Second),
			ExpiryScanInterval: getEnvAsDuration("ADMISSION_EXPIRY_SCAN_INTERVAL", 30*time.Second),
			LimitScanInterval:  getEnvAsDuration("ADMISSION_LIMIT_SCAN_INTERVAL", 60*time.Second),
			ResyncInterval:     getEnvAsDuration("ADMISSION_RESYNC_INTERVAL", 60*time.Second),
			SessionWindow:      getEnvAsDuration("ADMISSION_SESSION_WINDOW", 8*time.Minute),
			ExtensionStep:      getEnvAsDuration("ADMISSION_EXTENSION_STEP", 2*time.Minute),
			MaxExtensions:      getEnvAsInt("ADMISSION_MAX_EXTENSIONS", 2),
			GraceWindow:        getEnvAsDuration("ADMISSION_GRACE_WINDOW", 2*time.Minute),
			LeaseTTL:           getEnvAsDuration("ADMISSION_LEASE_TTL", 90*time.Second),
			ScanBatchSize:      getEnvAsInt("ADMISSION_SCAN_BATCH_SIZE", 200),
			NotifyTimeout:      getEnvAsDuration("ADMISSION_NOTIFY_TIMEOUT", 5*time.Second),
			RetryAttempts:      getEnvAsInt("ADMISSION_RETRY_ATTEMPTS", 3),
			RetryDelay:         getEnvAsDuration("ADMISSION_RETRY_DELAY", 200*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "jwt-secret"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Mode:     getEnv("LOG_MODE", "development"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Kafka: KafkaConfig{
			Brokers:              getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ProducerRetryMax:     getEnvAsInt("KAFKA_PRODUCER_RETRY_MAX", 3),
			ProducerRequiredAcks: getEnvAsInt("KAFKA_PRODUCER_REQUIRED_ACKS", 1),
			Enabled:              getEnvAsBool("KAFKA_ENABLED", true),
			ConsumerGroupID:      getEnv("KAFKA_CONSUMER_GROUP_ID", "admission-service"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.GRpcPort <= 0 || c.Server.GRpcPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.GRpcPort)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}

	if c.Storage != StorageMemory && c.Storage != StoragePostgres {
		return fmt.Errorf("unknown storage driver: %s", c.Storage)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	a := c.Admission
	if a.TickInterval <= 0 || a.ExpiryScanInterval <= 0 || a.LimitScanInterval <= 0 || a.ResyncInterval <= 0 {
		return fmt.Errorf("admission intervals must be positive")
	}

	if a.SessionWindow <= 0 || a.ExtensionStep <= 0 {
		return fmt.Errorf("session window and extension step must be positive")
	}

	if a.MaxExtensions < 0 {
		return fmt.Errorf("invalid max extensions: %d", a.MaxExtensions)
	}

	if a.ScanBatchSize <= 0 {
		return fmt.Errorf("invalid scan batch size: %d", a.ScanBatchSize)
	}

	if a.GraceWindow < 0 {
		return fmt.Errorf("grace window must not be negative: %s", a.GraceWindow)
	}

	if a.LeaseTTL <= a.TickInterval {
		return fmt.Errorf("lease ttl %s must exceed tick interval %s", a.LeaseTTL, a.TickInterval)
	}

	if c.JWT.Secret == "" || c.JWT.Secret == "your-super-secret-key-change-in-production" {
		if c.Env == "production" {
			return fmt.Errorf("JWT secret must be set in production")
		}
	}

	return nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	// Split by comma
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
