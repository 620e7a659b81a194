// Package config loads settler configuration from flags, environment
// variables, and an optional config file, following the shape of the
// teacher's Load(cfgFile, flags) — generalized to the settler's
// environment variables per spec §6.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the settler's runtime configuration.
type Config struct {
	Port              string
	RPCURL            string
	RPCWSSURL         string
	ContractAddress   string
	SettlerPrivateKey string
	DatabaseURL       string

	StreamStale       time.Duration
	StreamMonitor     time.Duration
	MaxReconnectTries int

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SETTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// The spec's environment variable names (§6) are bare, not
	// SETTLER_-prefixed; bind them explicitly alongside AutomaticEnv.
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("rpc-url", "RPC_URL")
	_ = v.BindEnv("rpc-wss-url", "RPC_WSS_URL")
	_ = v.BindEnv("contract-address", "CONTRACT_ADDRESS")
	_ = v.BindEnv("settler-private-key", "SETTLER_PRIVATE_KEY")
	_ = v.BindEnv("database-url", "DATABASE_URL")

	v.SetDefault("port", "8080")
	v.SetDefault("stream-stale", 120*time.Second)
	v.SetDefault("stream-monitor", 60*time.Second)
	v.SetDefault("max-reconnect-tries", 10)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Port:              v.GetString("port"),
		RPCURL:            v.GetString("rpc-url"),
		RPCWSSURL:         v.GetString("rpc-wss-url"),
		ContractAddress:   v.GetString("contract-address"),
		SettlerPrivateKey: v.GetString("settler-private-key"),
		DatabaseURL:       v.GetString("database-url"),
		StreamStale:       v.GetDuration("stream-stale"),
		StreamMonitor:     v.GetDuration("stream-monitor"),
		MaxReconnectTries: v.GetInt("max-reconnect-tries"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.SettlerPrivateKey == "" {
		return Config{}, fmt.Errorf("settler private key is required")
	}
	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc url is required")
	}
	if cfg.RPCWSSURL == "" {
		return Config{}, fmt.Errorf("rpc wss url is required")
	}
	if cfg.ContractAddress == "" {
		return Config{}, fmt.Errorf("contract address is required")
	}

	return cfg, nil
}
