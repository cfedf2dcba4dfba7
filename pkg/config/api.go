package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment           string
	Addr                  string
	LogLevel              string
	StoreDriver           string
	DatabaseURL           string
	MigrationsDir         string
	BadgerPath            string
	EventBusRedisAddr     string
	EventBusRedisPass     string
	EventBusRedisDB       int
	EventStream           string
	EventSource           string
	PublishAttempts       int
	PublishBackoff        time.Duration
	AuthSecret            string
	ExecutorToken         string
	RateLimitRedisAddr    string
	RateLimitRedisPass    string
	RateLimitRedisDB      int
	ConfigEncryptionKey   string
	ProjectRetention      time.Duration
	DeploymentMaxDuration time.Duration
	EventBuffer           int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:           GetString("APP_ENV", "development"),
		Addr:                  GetString("API_ADDR", ":4000"),
		LogLevel:              GetString("LOG_LEVEL", "info"),
		StoreDriver:           GetString("STORE_DRIVER", "postgres"),
		DatabaseURL:           GetString("DATABASE_URL", "postgres://skafu:skafu@db:5432/skafu?sslmode=disable"),
		MigrationsDir:         GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		BadgerPath:            GetString("BADGER_PATH", "/var/lib/skafu/store"),
		EventBusRedisAddr:     GetString("EVENT_BUS_REDIS_ADDR", "redis:6379"),
		EventBusRedisPass:     GetString("EVENT_BUS_REDIS_PASSWORD", ""),
		EventBusRedisDB:       GetInt("EVENT_BUS_REDIS_DB", 0),
		EventStream:           GetString("EVENT_STREAM", "skafu:events"),
		EventSource:           GetString("EVENT_SOURCE", "project-management"),
		PublishAttempts:       GetInt("EVENT_PUBLISH_ATTEMPTS", 3),
		PublishBackoff:        time.Duration(GetInt("EVENT_PUBLISH_BACKOFF_MS", 200)) * time.Millisecond,
		AuthSecret:            GetString("AUTH_JWT_SECRET", "supersecuresecret"),
		ExecutorToken:         GetString("EXECUTOR_AUTH_TOKEN", ""),
		RateLimitRedisAddr:    GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:    GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:      GetInt("RATE_LIMIT_REDIS_DB", 0),
		ConfigEncryptionKey:   GetString("CONFIG_ENCRYPTION_KEY", "supersecuresecret"),
		ProjectRetention:      time.Duration(GetInt("PROJECT_RETENTION_HOURS", 720)) * time.Hour,
		DeploymentMaxDuration: time.Duration(GetInt("DEPLOYMENT_MAX_DURATION_MINUTES", 30)) * time.Minute,
		EventBuffer:           GetInt("WS_EVENT_BUFFER", 100),
	}
}
