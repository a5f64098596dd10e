/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultOperationTimeout  = 10 * time.Second
	defaultDirectoryTimeout  = 2 * time.Second
	defaultUserCacheTTL      = 10 * time.Minute
	defaultReconcileSchedule = "@every 15m"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	DatabaseMaxConns           int    `mapstructure:"DB_MAX_CONNS"`
	DBAutoMigrate              bool   `mapstructure:"DB_AUTO_MIGRATE"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RedisUserCachePrefix       string `mapstructure:"REDIS_USER_CACHE_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange       string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	UserServiceURL             string `mapstructure:"USER_SERVICE_URL"`
	UserServiceInternalAPIKey  string `mapstructure:"USER_SERVICE_INTERNAL_API_KEY"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	AuthJWTSecret              string `mapstructure:"AUTH_JWT_SECRET"`
	AuthJWTIssuer              string `mapstructure:"AUTH_JWT_ISSUER"`
	AuthJWTAudience            string `mapstructure:"AUTH_JWT_AUDIENCE"`
	MutationRateLimitPerMinute int    `mapstructure:"MUTATION_RATE_LIMIT_PER_MINUTE"`
	DepositRateLimitPerMinute  int    `mapstructure:"DEPOSIT_RATE_LIMIT_PER_MINUTE"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	AccountNumberMaxAttempts   int    `mapstructure:"ACCOUNT_NUMBER_MAX_ATTEMPTS"`

	// Parsed from LEDGER_OPERATION_TIMEOUT, DIRECTORY_TIMEOUT and USER_CACHE_TTL.
	LedgerOperationTimeout time.Duration `mapstructure:"-"`
	DirectoryTimeout       time.Duration `mapstructure:"-"`
	UserCacheTTL           time.Duration `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ledger:rate_limit")
	viper.SetDefault("REDIS_USER_CACHE_PREFIX", "ledger:user")
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger_events")
	viper.SetDefault("MUTATION_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("ACCOUNT_NUMBER_MAX_ATTEMPTS", 5)
	viper.SetDefault("LEDGER_OPERATION_TIMEOUT", defaultOperationTimeout.String())
	viper.SetDefault("DIRECTORY_TIMEOUT", defaultDirectoryTimeout.String())
	viper.SetDefault("USER_CACHE_TTL", defaultUserCacheTTL.String())

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("REDIS_USER_CACHE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("USER_SERVICE_URL")
	_ = viper.BindEnv("USER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("AUTH_JWT_ISSUER")
	_ = viper.BindEnv("AUTH_JWT_AUDIENCE")
	_ = viper.BindEnv("MUTATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("DEPOSIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("ACCOUNT_NUMBER_MAX_ATTEMPTS")
	_ = viper.BindEnv("LEDGER_OPERATION_TIMEOUT")
	_ = viper.BindEnv("DIRECTORY_TIMEOUT")
	_ = viper.BindEnv("USER_CACHE_TTL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.UserServiceInternalAPIKey = strings.TrimSpace(config.UserServiceInternalAPIKey)
	if config.UserServiceInternalAPIKey == "" {
		config.UserServiceInternalAPIKey = config.InternalAPIKey
	}
	config.UserServiceURL = strings.TrimSpace(config.UserServiceURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ledger:rate_limit"
	}
	config.LedgerEventsExchange = strings.TrimSpace(config.LedgerEventsExchange)
	if config.LedgerEventsExchange == "" {
		config.LedgerEventsExchange = "ledger_events"
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	if config.ReconcileSchedule == "" {
		config.ReconcileSchedule = defaultReconcileSchedule
	}

	if config.DatabaseMaxConns <= 0 {
		config.DatabaseMaxConns = 10
	}
	if config.MutationRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative mutation rate limit configured; disabling limiter\" value=%d", config.MutationRateLimitPerMinute)
		config.MutationRateLimitPerMinute = 0
	}
	// Per-scope budgets fall back to the shared mutation budget when unset.
	config.DepositRateLimitPerMinute = scopeRateLimit("DEPOSIT_RATE_LIMIT_PER_MINUTE", config.DepositRateLimitPerMinute, config.MutationRateLimitPerMinute)
	config.TransferRateLimitPerMinute = scopeRateLimit("TRANSFER_RATE_LIMIT_PER_MINUTE", config.TransferRateLimitPerMinute, config.MutationRateLimitPerMinute)
	if config.AccountNumberMaxAttempts <= 0 {
		config.AccountNumberMaxAttempts = 5
	}

	config.LedgerOperationTimeout = parseDuration("LEDGER_OPERATION_TIMEOUT", defaultOperationTimeout)
	config.DirectoryTimeout = parseDuration("DIRECTORY_TIMEOUT", defaultDirectoryTimeout)
	config.UserCacheTTL = parseDuration("USER_CACHE_TTL", defaultUserCacheTTL)

	return
}

func scopeRateLimit(key string, value int, fallback int) int {
	if !viper.IsSet(key) {
		return fallback
	}
	if value < 0 {
		log.Printf("level=warn component=config msg=\"negative rate limit configured; disabling scope\" key=%s value=%d", key, value)
		return 0
	}
	return value
}

// parseDuration accepts Go duration strings ("5s", "1m30s") or a bare number of seconds.
func parseDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			log.Printf("level=warn component=config msg=\"non-positive duration; using default\" key=%s value=%q", key, raw)
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		log.Printf("level=warn component=config msg=\"invalid duration; using default\" key=%s value=%q err=%v", key, raw, err)
		return fallback
	}
	return value
}
