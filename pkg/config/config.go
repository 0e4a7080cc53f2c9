package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Supported timetable store drivers.
const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Store     StoreConfig
	DynamoDB  DynamoDBConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Cookies   CookieConfig
	CORS      CORSConfig
	Log       LogConfig
	Timetable TimetableConfig
	Jobs      JobsConfig
}

// StoreConfig selects the persistence backend for timetable slots and users.
type StoreConfig struct {
	Driver string
}

// DynamoDBConfig configures the DynamoDB client. Empty credentials fall back to
// the default AWS credential chain.
type DynamoDBConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	TimetableTable  string
	UsersTable      string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// CookieConfig controls the http-only session cookies set on login.
type CookieConfig struct {
	AdminName   string
	StudentName string
	Secure      bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TimetableConfig tunes the timetable engines.
type TimetableConfig struct {
	DailyCap     int
	ScanPageSize int
	Timezone     string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// JobsConfig configures the background cache invalidation queue.
type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Store = StoreConfig{Driver: strings.ToLower(v.GetString("STORE_DRIVER"))}

	cfg.DynamoDB = DynamoDBConfig{
		Region:          v.GetString("AWS_REGION"),
		Endpoint:        v.GetString("DYNAMODB_ENDPOINT"),
		AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		TimetableTable:  v.GetString("DYNAMODB_TIMETABLE_TABLE"),
		UsersTable:      v.GetString("DYNAMODB_USERS_TABLE"),
	}

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.Cookies = CookieConfig{
		AdminName:   v.GetString("ADMIN_COOKIE_NAME"),
		StudentName: v.GetString("STUDENT_COOKIE_NAME"),
		Secure:      cfg.Env == EnvProduction || v.GetBool("COOKIE_SECURE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Timetable = TimetableConfig{
		DailyCap:     v.GetInt("TIMETABLE_DAILY_CAP"),
		ScanPageSize: v.GetInt("TIMETABLE_SCAN_PAGE_SIZE"),
		Timezone:     v.GetString("TIMETABLE_TIMEZONE"),
		CacheEnabled: v.GetBool("TIMETABLE_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("TIMETABLE_CACHE_TTL"), 5*time.Minute),
	}
	if cfg.Timetable.DailyCap <= 0 {
		cfg.Timetable.DailyCap = 5
	}
	if _, err := cfg.Timetable.Location(); err != nil {
		return nil, err
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("INVALIDATION_WORKERS"),
		MaxRetries: v.GetInt("INVALIDATION_RETRIES"),
		RetryDelay: parseDuration(v.GetString("INVALIDATION_RETRY_DELAY"), time.Second),
	}

	return cfg, nil
}

// Location resolves the configured timetable time zone. Empty or "Local"
// selects the host zone; any other unknown name is an error.
func (c TimetableConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMETABLE_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("STORE_DRIVER", StoreDynamoDB)

	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("DYNAMODB_ENDPOINT", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("DYNAMODB_TIMETABLE_TABLE", "TimeTable")
	v.SetDefault("DYNAMODB_USERS_TABLE", "Users")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "timetable-api")

	v.SetDefault("ADMIN_COOKIE_NAME", "adminToken")
	v.SetDefault("STUDENT_COOKIE_NAME", "studentToken")
	v.SetDefault("COOKIE_SECURE", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TIMETABLE_DAILY_CAP", 5)
	v.SetDefault("TIMETABLE_SCAN_PAGE_SIZE", 100)
	v.SetDefault("TIMETABLE_TIMEZONE", "Local")
	v.SetDefault("TIMETABLE_CACHE_ENABLED", true)
	v.SetDefault("TIMETABLE_CACHE_TTL", "5m")

	v.SetDefault("INVALIDATION_WORKERS", 2)
	v.SetDefault("INVALIDATION_RETRIES", 3)
	v.SetDefault("INVALIDATION_RETRY_DELAY", "1s")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
