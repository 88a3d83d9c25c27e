package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config collects everything the binaries read from the environment.
// Variables use the IMMERSION_ prefix, e.g. IMMERSION_DATABASE_URL.
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	JWTSecret string
	TokenTTL  time.Duration

	Dispatcher  DispatcherConfig
	PartnerSync PartnerSyncConfig
	Retention   RetentionConfig
}

type DispatcherConfig struct {
	BatchSize         int
	RetryBudget       int
	SubscriberTimeout time.Duration
	PollInterval      time.Duration
}

type PartnerSyncConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// BaseURL of the partner broadcast endpoint. Empty disables the worker.
	BaseURL string
	APIKey  string
}

type RetentionConfig struct {
	Window time.Duration
	Limit  int
}

func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IMMERSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("token_ttl", "720h")
	v.SetDefault("dispatcher.batch_size", 100)
	v.SetDefault("dispatcher.retry_budget", 3)
	v.SetDefault("dispatcher.subscriber_timeout", "30s")
	v.SetDefault("dispatcher.poll_interval", "5s")
	v.SetDefault("partnersync.batch_size", 50)
	v.SetDefault("partnersync.poll_interval", "1m")
	v.SetDefault("retention.window", "8760h")
	v.SetDefault("retention.limit", 1000)

	cfg := Config{
		DatabaseURL: v.GetString("database_url"),
		HTTPAddr:    v.GetString("http_addr"),
		JWTSecret:   v.GetString("jwt_secret"),
		TokenTTL:    v.GetDuration("token_ttl"),
		Dispatcher: DispatcherConfig{
			BatchSize:         v.GetInt("dispatcher.batch_size"),
			RetryBudget:       v.GetInt("dispatcher.retry_budget"),
			SubscriberTimeout: v.GetDuration("dispatcher.subscriber_timeout"),
			PollInterval:      v.GetDuration("dispatcher.poll_interval"),
		},
		PartnerSync: PartnerSyncConfig{
			BatchSize:    v.GetInt("partnersync.batch_size"),
			PollInterval: v.GetDuration("partnersync.poll_interval"),
			BaseURL:      v.GetString("partnersync.base_url"),
			APIKey:       v.GetString("partnersync.api_key"),
		},
		Retention: RetentionConfig{
			Window: v.GetDuration("retention.window"),
			Limit:  v.GetInt("retention.limit"),
		},
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: IMMERSION_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: IMMERSION_JWT_SECRET is required")
	}

	return cfg, nil
}
