package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppPort string
	AppURL  string

	// Database
	DBDriver          string // mysql, postgres or memory
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUsername        string
	DBPassword        string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret       string
	JWTAccessExpire time.Duration

	// Upload
	UploadMaxSize int
	UploadPath    string

	// Validation
	MinRows           int
	MaxRows           int
	CurrencyRulesPath string

	// Approval
	ApprovalTimeout      time.Duration
	ApprovalRowThreshold int
	ApprovalInvalidRatio float64
	NotificationTimeout  time.Duration
	NotificationChannel  string
	ApproversPerFile     int

	// Processing
	BatchSize             int
	ProcessingConcurrency int
	ProviderTimeout       time.Duration
	MaxRetries            int
	StuckFileTimeout      time.Duration
	ReconcileInterval     string
	ProviderBaseURLs      map[string]string
	ProviderAPIKey        string

	// Pagination
	DefaultPageSize int
	MaxPageSize     int

	// Asynq
	AsynqRedisAddr     string
	AsynqRedisPassword string
	AsynqRedisDB       int
	WorkerConcurrency  int
}

func Load() (*Config, error) {
	// Load .env file if exists
	// Try to load from current dir first, then parent dirs
	_ = godotenv.Load()
	_ = godotenv.Load("../../.env") // For when running from cmd/web or cmd/worker

	cfg := &Config{
		AppName: getEnv("APP_NAME", "Mass Payments"),
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		AppURL:  getEnv("APP_URL", "http://localhost:8080"),

		DBDriver:          getEnv("DB_DRIVER", "mysql"),
		DBHost:            getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBDatabase:        getEnv("DB_DATABASE", "mass_payments"),
		DBUsername:        getEnv("DB_USERNAME", "root"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBSSLMode:         getEnv("DB_SSLMODE", "disable"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JWTSecret:       getEnv("JWT_SECRET", "change-this-secret-key"),
		JWTAccessExpire: getEnvAsDuration("JWT_ACCESS_EXPIRE", 24*time.Hour),

		UploadMaxSize: getEnvAsInt("UPLOAD_MAX_SIZE", 20971520), // 20MB
		UploadPath:    getEnv("UPLOAD_PATH", "./storage/uploads"),

		MinRows:           getEnvAsInt("VALIDATION_MIN_ROWS", 1),
		MaxRows:           getEnvAsInt("VALIDATION_MAX_ROWS", 10000),
		CurrencyRulesPath: getEnv("CURRENCY_RULES_PATH", ""),

		ApprovalTimeout:      getEnvAsDuration("APPROVAL_TIMEOUT", 72*time.Hour),
		ApprovalRowThreshold: getEnvAsInt("APPROVAL_ROW_THRESHOLD", 1000),
		ApprovalInvalidRatio: getEnvAsFloat("APPROVAL_INVALID_RATIO", 0.10),
		NotificationTimeout:  getEnvAsDuration("NOTIFICATION_TIMEOUT", 5*time.Second),
		NotificationChannel:  getEnv("NOTIFICATION_CHANNEL", "mass_payments:events"),
		ApproversPerFile:     getEnvAsInt("APPROVERS_PER_FILE", 1),

		BatchSize:             getEnvAsInt("BATCH_SIZE", 100),
		ProcessingConcurrency: getEnvAsInt("PROCESSING_CONCURRENCY", 1),
		ProviderTimeout:       getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		MaxRetries:            getEnvAsInt("MAX_RETRIES", 3),
		StuckFileTimeout:      getEnvAsDuration("STUCK_FILE_TIMEOUT", 30*time.Minute),
		ReconcileInterval:     getEnv("RECONCILE_INTERVAL", "@every 5m"),
		ProviderBaseURLs:      getEnvAsMap("PROVIDER_BASE_URLS"),
		ProviderAPIKey:        getEnv("PROVIDER_API_KEY", ""),

		DefaultPageSize: getEnvAsInt("DEFAULT_PAGE_SIZE", 25),
		MaxPageSize:     getEnvAsInt("MAX_PAGE_SIZE", 100),

		AsynqRedisAddr:     getEnv("ASYNQ_REDIS_ADDR", "127.0.0.1:6379"),
		AsynqRedisPassword: getEnv("ASYNQ_REDIS_PASSWORD", ""),
		AsynqRedisDB:       getEnvAsInt("ASYNQ_REDIS_DB", 0),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
	}

	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MinRows < 1 || cfg.MaxRows < cfg.MinRows {
		return nil, fmt.Errorf("invalid row bounds [%d, %d]", cfg.MinRows, cfg.MaxRows)
	}

	return cfg, nil
}

// Defaults returns a configuration with every tunable at its default value
// and no environment lookups. Used by tests and the offline CLI.
func Defaults() *Config {
	return &Config{
		AppEnv:                "test",
		DBDriver:              "memory",
		UploadPath:            os.TempDir(),
		MinRows:               1,
		MaxRows:               10000,
		ApprovalTimeout:       72 * time.Hour,
		ApprovalRowThreshold:  1000,
		ApprovalInvalidRatio:  0.10,
		NotificationTimeout:   5 * time.Second,
		ApproversPerFile:      1,
		BatchSize:             100,
		ProcessingConcurrency: 1,
		ProviderTimeout:       30 * time.Second,
		MaxRetries:            3,
		StuckFileTimeout:      30 * time.Minute,
		DefaultPageSize:       25,
		MaxPageSize:           100,
		JWTSecret:             "test-secret",
		JWTAccessExpire:       time.Hour,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) GetDSN() string {
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			c.DBHost, c.DBPort, c.DBUsername, c.DBPassword, c.DBDatabase, c.DBSSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&clientFoundRows=true",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBDatabase,
	)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsMap parses "name=value,name=value".
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(getEnv(key, ""), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			out[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return out
}
