package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"

	"github.com/jnarwell/trellis-sub000/pkg/auth"
	"github.com/jnarwell/trellis-sub000/pkg/database"
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/kafka"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"trellis-api"`
	Port                          int    `env:"PORT" env-default:"3000"`
	Version                       string `env:"VERSION" env-default:"dev"`
	Environment                   string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseHost                string `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                int    `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string `env:"DB_USER" env-default:""`
	DatabasePassword            string `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string `env:"DB_NAME" env-default:"trellis"`
	DatabaseSSLMode             string `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int    `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int    `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     int    `env:"DB_CONN_MAX_LIFETIME_SECONDS" env-default:"600"`
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`

	// Auth
	AuthSecret          string        `env:"AUTH_SECRET" env-default:""`
	AuthAccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TTL" env-default:"15m"`
	AuthRefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TTL" env-default:"720h"`
	AuthIssuer          string        `env:"AUTH_ISSUER" env-default:"trellis"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka Producer
	KafkaEnabled        bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers        []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaTopic          string   `env:"KAFKA_TOPIC" env-default:"trellis-events"`
	KafkaBatchSize      int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeoutMs int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks   int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression    string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	TracingEnabled      bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingOTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`

	// Computation
	EvaluateOnWrite bool `env:"EVALUATE_ON_WRITE" env-default:"true"`

	// ProductConfigPath points at the YAML type and relationship
	// declarations loaded at startup. Empty skips loading.
	ProductConfigPath string `env:"PRODUCT_CONFIG_PATH" env-default:""`
}

// Load reads .env if present and binds the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to bind environment")
	}
	if cfg.AuthSecret == "" {
		return nil, errors.New(errors.CodeValidation, "AUTH_SECRET is required")
	}
	return cfg, nil
}

// IsProduction reports whether internal error details should be masked.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Database builds the connection config.
func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

// Auth builds the token service config.
func (c *Config) Auth() auth.Config {
	return auth.Config{
		Secret:          c.AuthSecret,
		AccessTokenTTL:  c.AuthAccessTokenTTL,
		RefreshTokenTTL: c.AuthRefreshTokenTTL,
		Issuer:          c.AuthIssuer,
	}
}

// Kafka builds the producer config.
func (c *Config) Kafka() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeoutMs) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}
