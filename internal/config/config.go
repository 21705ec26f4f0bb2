package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Conversation ConversationConfig
	Hub          HubConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior. Format is "json" or "console".
type LoggerConfig struct {
	Level  string
	Format string
}

// AuthConfig defines token validation parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// ConversationConfig bounds message appends.
type ConversationConfig struct {
	MaxBodyLength          int
	RateLimitMessages      int
	RateLimitWindowSeconds int
}

// HubConfig tunes the live channel.
type HubConfig struct {
	QueueSize         int
	SubscriberBuffer  int
	PingPeriodSeconds int
	PongWaitSeconds   int
	WriteWaitSeconds  int
	MaxFrameBytes     int64
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-channel"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Conversation: ConversationConfig{
			MaxBodyLength:          getEnvAsInt("CONVERSATION_MAX_BODY_LENGTH", 1000),
			RateLimitMessages:      getEnvAsInt("CONVERSATION_RATE_LIMIT_MESSAGES", 30),
			RateLimitWindowSeconds: getEnvAsInt("CONVERSATION_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Hub: HubConfig{
			QueueSize:         getEnvAsInt("HUB_QUEUE_SIZE", 1024),
			SubscriberBuffer:  getEnvAsInt("HUB_SUBSCRIBER_BUFFER", 64),
			PingPeriodSeconds: getEnvAsInt("HUB_PING_PERIOD_SECONDS", 25),
			PongWaitSeconds:   getEnvAsInt("HUB_PONG_WAIT_SECONDS", 60),
			WriteWaitSeconds:  getEnvAsInt("HUB_WRITE_WAIT_SECONDS", 10),
			MaxFrameBytes:     int64(getEnvAsInt("HUB_MAX_FRAME_BYTES", 16*1024)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the channel cannot run with.
func (c *Config) Validate() error {
	if c.Conversation.MaxBodyLength <= 0 {
		return fmt.Errorf("CONVERSATION_MAX_BODY_LENGTH must be positive")
	}
	if c.Hub.PingPeriodSeconds <= 0 || c.Hub.PongWaitSeconds <= c.Hub.PingPeriodSeconds {
		return fmt.Errorf("HUB_PONG_WAIT_SECONDS must exceed HUB_PING_PERIOD_SECONDS")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET required")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the rate limit window duration.
func (c ConversationConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// PingPeriod returns the server ping interval.
func (h HubConfig) PingPeriod() time.Duration {
	return time.Duration(h.PingPeriodSeconds) * time.Second
}

// PongWait returns how long a session may stay silent.
func (h HubConfig) PongWait() time.Duration {
	return time.Duration(h.PongWaitSeconds) * time.Second
}

// WriteWait returns the per-frame write deadline.
func (h HubConfig) WriteWait() time.Duration {
	return time.Duration(h.WriteWaitSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
