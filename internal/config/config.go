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
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the launchpad-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	DeployFeeEventQueue    string `mapstructure:"DEPLOY_FEE_EVENT_QUEUE"`
	StakeAPIBaseURL        string `mapstructure:"STAKE_API_BASE_URL"`
	StakeAPIKey            string `mapstructure:"STAKE_API_KEY"`
	StakeTarget            string `mapstructure:"STAKE_TARGET"`
	MarketAPIBaseURL       string `mapstructure:"MARKET_API_BASE_URL"`
	MarketAPIKey           string `mapstructure:"MARKET_API_KEY"`
	CapabilityJWTSecret    string `mapstructure:"CAPABILITY_JWT_SECRET"`
	RecoveryKey            string `mapstructure:"RECOVERY_KEY"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	DeployFeeAmount        int64  `mapstructure:"DEPLOY_FEE_AMOUNT"`
	MintRateLimitPerMinute int    `mapstructure:"MINT_RATE_LIMIT_PER_MINUTE"`
	ReconcileIntervalCron  string `mapstructure:"RECONCILE_INTERVAL_CRON"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DEPLOY_FEE_EVENT_QUEUE", "launchpad_service.deploy_fee_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "launchpad:rate_limit")
	viper.SetDefault("DEPLOY_FEE_AMOUNT", 2500)
	viper.SetDefault("MINT_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("RECONCILE_INTERVAL_CRON", "@every 1m")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LAUNCHPAD_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DEPLOY_FEE_EVENT_QUEUE")
	_ = viper.BindEnv("STAKE_API_BASE_URL")
	_ = viper.BindEnv("STAKE_API_KEY")
	_ = viper.BindEnv("STAKE_TARGET")
	_ = viper.BindEnv("MARKET_API_BASE_URL")
	_ = viper.BindEnv("MARKET_API_KEY")
	_ = viper.BindEnv("CAPABILITY_JWT_SECRET")
	_ = viper.BindEnv("RECOVERY_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LAUNCHPAD_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DEPLOY_FEE_AMOUNT")
	_ = viper.BindEnv("MINT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RECONCILE_INTERVAL_CRON")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LAUNCHPAD_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "launchpad:rate_limit"
	}

	if config.DeployFeeAmount < 0 {
		log.Printf("level=warn component=config msg=\"negative deploy fee configured; coercing to zero\" fee=%d", config.DeployFeeAmount)
		config.DeployFeeAmount = 0
	}
	if config.MintRateLimitPerMinute < 0 {
		config.MintRateLimitPerMinute = 0
	}
	if strings.TrimSpace(config.ReconcileIntervalCron) == "" {
		config.ReconcileIntervalCron = "@every 1m"
	}

	return
}
