package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-supplied setting the gateway needs. Fields
// are loaded from `.env` (if present) and then the process environment, with
// the latter winning.
type Config struct {
	Port             string
	GinMode          string
	AllowedHosts     string // CORS allow-list, comma separated
	AuthToken        string // edge bearer token, env "auth_token"
	AccountKey       string // credential-at-rest cipher key, env "account_key"
	RedisURI         string // rate-limit store, env "redis_uri"
	DatabaseURL      string // metadata store, env "mysql_uri" (name kept for operational compatibility)
	ChatGPTBaseURL   string
	CaptchaURL       string
	SSLKeyFile       string
	SSLCertFile      string
	AccountsSeedFile string // optional YAML bootstrap file, env "ACCOUNTS_SEED_FILE"

	// Database connection pool.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // minutes
	DBConnMaxLifetime int // minutes

	// Upstream HTTP client.
	UpstreamTimeoutSeconds int // per-call timeout, default 360

	// Rate limiter worker pool (keeps Redis I/O off the request goroutine).
	RateLimiterWorkerPoolSize int
	RateLimiterBufferSize     int

	// Pool scheduler.
	SchedulerWaitTimeoutSeconds int // default 60, outer wait-for-session budget

	// Token lifecycle worker.
	HealthCheckInterval       time.Duration // default 1h
	LoginLoopMinInterval      time.Duration // default 1m
	LoginLoopMaxInterval      time.Duration // default 5m
	TokenRefreshWindowSeconds int           // default 3600 (evict if exp - now below this)
	LoginWindowSeconds        int64         // default 86400, one-day login eligibility window

	// Server.
	ServerShutdownTimeoutSeconds int

	// Logging.
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

// LoadConfig populates AppConfig from .env and the process environment.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:         getEnvOrDefault("port", "9000"),
		GinMode:      getEnvOrDefault("GIN_MODE", "release"),
		AllowedHosts: getEnvOrDefault("allowed_hosts", "*"),
		AuthToken:    getEnvOrDefault("auth_token", ""),
		AccountKey:   getEnvOrDefault("account_key", ""),
		RedisURI:     getEnvOrDefault("redis_uri", "redis://localhost:6379/0"),
		DatabaseURL:  getEnvOrDefault("mysql_uri", "postgres://localhost/botmgr?sslmode=disable"),

		ChatGPTBaseURL:   getEnvOrDefault("CHATGPT_BASE_URL", "https://bypass.churchless.tech/"),
		CaptchaURL:       getEnvOrDefault("CAPTCHA_URL", ""),
		SSLKeyFile:       getEnvOrDefault("ssl_keyfile", ""),
		SSLCertFile:      getEnvOrDefault("ssl_certfile", ""),
		AccountsSeedFile: getEnvOrDefault("ACCOUNTS_SEED_FILE", "accounts.yaml"),

		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		UpstreamTimeoutSeconds: getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", 360),

		RateLimiterWorkerPoolSize: getEnvAsInt("RATE_LIMITER_WORKER_POOL_SIZE", 10),
		RateLimiterBufferSize:     getEnvAsInt("RATE_LIMITER_BUFFER_SIZE", 500),

		SchedulerWaitTimeoutSeconds: getEnvAsInt("SCHEDULER_WAIT_TIMEOUT_SECONDS", 60),

		HealthCheckInterval:       getEnvAsDuration("HEALTH_CHECK_INTERVAL", time.Hour),
		LoginLoopMinInterval:      getEnvAsDuration("LOGIN_LOOP_MIN_INTERVAL", time.Minute),
		LoginLoopMaxInterval:      getEnvAsDuration("LOGIN_LOOP_MAX_INTERVAL", 5*time.Minute),
		TokenRefreshWindowSeconds: getEnvAsInt("TOKEN_REFRESH_WINDOW_SECONDS", 3600),
		LoginWindowSeconds:        getEnvAsInt64("LOGIN_WINDOW_SECONDS", 86400),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if AppConfig.AuthToken == "" {
		log.Println("Warning: auth_token is empty; the public edge will accept any bearer token")
	}

	if AppConfig.AccountKey == "" {
		log.Fatal("account_key is required to encrypt/decrypt stored credentials")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s=%q as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s=%q as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse environment variable %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
