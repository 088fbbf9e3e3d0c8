// Package config loads runtime configuration from BIBLIOCORE_* environment
// variables and an optional config.yaml in the working directory.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Database
		Circulation
		Telemetry
	}

	HTTP struct {
		Host string
		Port int
	}

	Database struct {
		Path string
	}

	Circulation struct {
		LoanPeriodDays int
		RatePerSecond  int
		RateBurst      int
	}

	Telemetry struct {
		Enabled  bool
		Endpoint string
	}
)

// Load reads configuration with sane defaults for a local deployment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8090)
	v.SetDefault("database.path", "library.db")
	v.SetDefault("circulation.loan_period_days", 14)
	v.SetDefault("circulation.rate_per_second", 10)
	v.SetDefault("circulation.rate_burst", 20)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")

	v.SetEnvPrefix("BIBLIOCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	return &Config{
		HTTP: HTTP{
			Host: v.GetString("http.host"),
			Port: v.GetInt("http.port"),
		},
		Database: Database{
			Path: v.GetString("database.path"),
		},
		Circulation: Circulation{
			LoanPeriodDays: v.GetInt("circulation.loan_period_days"),
			RatePerSecond:  v.GetInt("circulation.rate_per_second"),
			RateBurst:      v.GetInt("circulation.rate_burst"),
		},
		Telemetry: Telemetry{
			Enabled:  v.GetBool("telemetry.enabled"),
			Endpoint: v.GetString("telemetry.endpoint"),
		},
	}, nil
}
