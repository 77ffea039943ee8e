// Package config provides configuration loading for the AgenShield daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for agenshield.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which callers handle gracefully.
		viper.SetConfigName("agenshield")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AGENSHIELD_SERVER_RPC_ADDR
	viper.SetEnvPrefix("AGENSHIELD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an agenshield config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agenshield"),
		"/etc/agenshield",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "agenshield"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: AGENSHIELD_BROKER_HTTP_PORT overrides broker.http_port.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.rpc_addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("broker.http_port")

	_ = viper.BindEnv("proxy_pool.max_concurrent")
	_ = viper.BindEnv("proxy_pool.idle_timeout")

	_ = viper.BindEnv("storage.path")

	_ = viper.BindEnv("default_action")
	_ = viper.BindEnv("agent_home")
	_ = viper.BindEnv("shield_bin_dir")
	_ = viper.BindEnv("policy_file")

	// Note: policies is an array, complex to override via env.
	// Users should use the config file or policy_file for policies.

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates. Callers that override DevMode from CLI
// flags should use LoadConfigRaw instead, then apply SetDevDefaults and
// Validate themselves.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file, or ""
// when running on environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
