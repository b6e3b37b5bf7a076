package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Distribution modes recognised for olympiad sessions.
const (
	ModeOnDemand    = "on_demand"
	ModePreAssigned = "pre_assigned"
)

// Class bounds accepted by the olympiad_codes table.
const (
	SchemaMinClass = 4
	SchemaMaxClass = 11
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Cache        CacheConfig
	Distribution DistributionConfig
	Jobs         JobsConfig
	Storage      StorageConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	MigrationsDir string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password  string
	DB        int
	KeyPrefix string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs availability count caching.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// ReservePair names a target class and the donor classes it may borrow from, nearest first.
type ReservePair struct {
	TargetClass  int
	DonorClasses []int
}

// DistributionConfig holds the allocation engine settings.
type DistributionConfig struct {
	MinClass     int
	MaxClass     int
	DefaultMode  string
	AutoReserve  bool
	ReservePairs []ReservePair
}

// JobsConfig configures the background reservation queue.
type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// StorageConfig locates uploaded screenshots.
type StorageConfig struct {
	ScreenshotDir      string
	MaxScreenshotBytes int64
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrationsDir: v.GetString("DB_MIGRATIONS_DIR"),
	}

	cfg.Redis = RedisConfig{
		Enabled:   v.GetBool("REDIS_ENABLED"),
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 30*time.Second),
	}

	pairs, err := parseReservePairs(v.GetString("DISTRIBUTION_RESERVE_PAIRS"))
	if err != nil {
		return nil, err
	}
	cfg.Distribution = DistributionConfig{
		MinClass:     v.GetInt("DISTRIBUTION_MIN_CLASS"),
		MaxClass:     v.GetInt("DISTRIBUTION_MAX_CLASS"),
		DefaultMode:  v.GetString("DISTRIBUTION_DEFAULT_MODE"),
		AutoReserve:  v.GetBool("DISTRIBUTION_AUTO_RESERVE"),
		ReservePairs: pairs,
	}
	if err := cfg.Distribution.Validate(); err != nil {
		return nil, err
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Storage = StorageConfig{
		ScreenshotDir:      v.GetString("SCREENSHOT_DIR"),
		MaxScreenshotBytes: v.GetInt64("SCREENSHOT_MAX_BYTES"),
	}

	return cfg, nil
}

// Validate checks the class range, mode and reserve pair bounds.
func (d DistributionConfig) Validate() error {
	if d.MinClass < SchemaMinClass || d.MaxClass > SchemaMaxClass || d.MaxClass < d.MinClass {
		return fmt.Errorf("invalid class range %d-%d", d.MinClass, d.MaxClass)
	}
	if d.DefaultMode != ModeOnDemand && d.DefaultMode != ModePreAssigned {
		return fmt.Errorf("unknown distribution mode %q", d.DefaultMode)
	}
	for _, pair := range d.ReservePairs {
		if pair.TargetClass < d.MinClass || pair.TargetClass > d.MaxClass {
			return fmt.Errorf("reserve target class %d out of range", pair.TargetClass)
		}
		for _, donor := range pair.DonorClasses {
			if donor <= pair.TargetClass || donor > d.MaxClass {
				return fmt.Errorf("reserve donor class %d invalid for target %d", donor, pair.TargetClass)
			}
		}
	}
	return nil
}

// Donors returns the donor classes configured for the target class in waterfall order.
func (d DistributionConfig) Donors(target int) []int {
	for _, pair := range d.ReservePairs {
		if pair.TargetClass == target {
			return pair.DonorClasses
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "olympiad_codes")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MIGRATIONS_DIR", "./migrations")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "olympiad")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "olympiad-codes-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "30s")

	v.SetDefault("DISTRIBUTION_MIN_CLASS", 4)
	v.SetDefault("DISTRIBUTION_MAX_CLASS", 11)
	v.SetDefault("DISTRIBUTION_DEFAULT_MODE", ModeOnDemand)
	v.SetDefault("DISTRIBUTION_AUTO_RESERVE", false)
	v.SetDefault("DISTRIBUTION_RESERVE_PAIRS", "8:9,10,11")

	v.SetDefault("JOBS_WORKERS", 1)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "2s")

	v.SetDefault("SCREENSHOT_DIR", "./screenshots")
	v.SetDefault("SCREENSHOT_MAX_BYTES", 5<<20)
}

// parseReservePairs reads "8:9,10,11;6:7" into reserve pairs.
func parseReservePairs(raw string) ([]ReservePair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var pairs []ReservePair
	for _, chunk := range strings.Split(raw, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		target, donors, ok := strings.Cut(chunk, ":")
		if !ok {
			return nil, fmt.Errorf("reserve pair %q: missing ':'", chunk)
		}
		targetClass, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("reserve pair %q: %w", chunk, err)
		}
		pair := ReservePair{TargetClass: targetClass}
		for _, donor := range splitAndTrim(donors) {
			donorClass, err := strconv.Atoi(donor)
			if err != nil {
				return nil, fmt.Errorf("reserve pair %q: %w", chunk, err)
			}
			pair.DonorClasses = append(pair.DonorClasses, donorClass)
		}
		if len(pair.DonorClasses) == 0 {
			return nil, fmt.Errorf("reserve pair %q: no donor classes", chunk)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
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
