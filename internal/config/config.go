// Package config owns the one Config struct every component is constructed
// with, rather than reading from global state at call sites. Grounded on
// the teacher's LoadConfig/getEnv in cmd/api/main.go, generalized to
// spf13/viper because this config surface is wide enough to warrant
// SetDefault/AutomaticEnv over repeated getEnv calls.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of options this deployment can tune — pricing,
// reconciler cadence, store and cache targets — plus the ambient process
// settings (log level, environment, server ports) the teacher's own Config
// struct carries.
type Config struct {
	DatabaseURL string

	CreditsConversionRate float64
	MinPayment            float64
	MaxPayment            float64
	ServerAccountID       string
	Network               string
	ReconcileInterval     time.Duration
	MaxPendingAge         time.Duration

	RedisAddr     string
	RedisPassword string

	LogLevel    string
	Environment string
	HTTPPort    string
}

// Load reads configuration from environment variables with defaults,
// mirroring the teacher's 12-factor convention. An optional file path
// (cmd/server passes CONFIG_FILE) is merged in before the environment, so
// env vars still win.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_url", "")
	v.SetDefault("credits_conversion_rate", 1000.0)
	v.SetDefault("min_payment", 0.001)
	v.SetDefault("max_payment", 10000.0)
	v.SetDefault("server_account_id", "0.0.1001")
	v.SetDefault("network", "mainnet")
	v.SetDefault("reconcile_interval_ms", 30000)
	v.SetDefault("max_pending_age_sec", 300)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "development")
	v.SetDefault("http_port", "8080")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	return &Config{
		DatabaseURL:           v.GetString("database_url"),
		CreditsConversionRate: v.GetFloat64("credits_conversion_rate"),
		MinPayment:            v.GetFloat64("min_payment"),
		MaxPayment:            v.GetFloat64("max_payment"),
		ServerAccountID:       v.GetString("server_account_id"),
		Network:               v.GetString("network"),
		ReconcileInterval:     time.Duration(v.GetInt64("reconcile_interval_ms")) * time.Millisecond,
		MaxPendingAge:         time.Duration(v.GetInt64("max_pending_age_sec")) * time.Second,
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		LogLevel:              v.GetString("log_level"),
		Environment:           v.GetString("environment"),
		HTTPPort:              v.GetString("http_port"),
	}, nil
}
