package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseDriver     string        `yaml:"databaseDriver"`
	DatabaseURL        string        `yaml:"databaseURL"`
	DBMaxOpenConns     int           `yaml:"dbMaxOpenConns"`
	DBMaxIdleConns     int           `yaml:"dbMaxIdleConns"`
	DBConnMaxIdleTime  time.Duration `yaml:"dbConnMaxIdleTime"`
	DBConnectTimeout   time.Duration `yaml:"dbConnectTimeout"`
	HTTPPort           string        `yaml:"httpPort"`
	LogLevel           string        `yaml:"logLevel"`
	JWTSecret          string        `yaml:"jwtSecret"`
	JWTTTL             time.Duration `yaml:"jwtTTL"`
	EncryptionKey      string        `yaml:"encryptionKey"`
	SupabaseURL        string        `yaml:"supabaseURL"`
	SupabaseServiceKey string        `yaml:"supabaseServiceKey"`
	RedisAddr          string        `yaml:"redisAddr"`
	RedisPassword      string        `yaml:"redisPassword"`
	IdentityCacheTTL   time.Duration `yaml:"identityCacheTTL"`
	BackgroundWorkers  int           `yaml:"backgroundWorkers"`
}

var AppConfig Config

// Defaults returns the configuration used when neither a config file nor the
// environment provide a value.
func Defaults() Config {
	return Config{
		DatabaseDriver:    "sqlite3",
		DatabaseURL:       "movt.db",
		DBMaxOpenConns:    10,
		DBMaxIdleConns:    5,
		DBConnMaxIdleTime: 20 * time.Second,
		DBConnectTimeout:  10 * time.Second,
		HTTPPort:          "8080",
		LogLevel:          "INFO",
		JWTTTL:            24 * time.Hour,
		IdentityCacheTTL:  time.Hour,
		BackgroundWorkers: 4,
	}
}

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	AppConfig = cfg
}

// Load builds a Config from defaults, the optional YAML file at path and
// finally the environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.DatabaseDriver = getEnv("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns)
	cfg.DBMaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns)
	cfg.DBConnMaxIdleTime = getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTime)
	cfg.DBConnectTimeout = getEnvAsDuration("DB_CONNECT_TIMEOUT", cfg.DBConnectTimeout)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = strings.ToUpper(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTTTL = getEnvAsDuration("JWT_TTL", cfg.JWTTTL)
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.SupabaseURL = strings.TrimRight(getEnv("SUPABASE_URL", cfg.SupabaseURL), "/")
	cfg.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", cfg.SupabaseServiceKey)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.IdentityCacheTTL = getEnvAsDuration("IDENTITY_CACHE_TTL", cfg.IdentityCacheTTL)
	cfg.BackgroundWorkers = getEnvAsInt("BACKGROUND_WORKERS", cfg.BackgroundWorkers)
	return cfg, nil
}

// Validate reports every missing or unusable setting at once.
func (c Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET environment variable is required")
	}
	switch c.DatabaseDriver {
	case "sqlite3", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL environment variable is required")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set together")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

// SupabaseEnabled reports whether the external identity provider is configured.
func (c Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	// bare integers are seconds
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
