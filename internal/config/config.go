// Package config provides configuration types for the AgenShield daemon.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// Config is the top-level daemon configuration.
type Config struct {
	// Server configures the JSON-RPC listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Broker carries the broker HTTP port, passed through to sandbox specs.
	Broker BrokerConfig `yaml:"broker" mapstructure:"broker"`

	// ProxyPool bounds the per-run egress proxy pool.
	ProxyPool ProxyPoolConfig `yaml:"proxy_pool" mapstructure:"proxy_pool"`

	// Storage selects the persistence backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// DefaultAction is the fallback when no policy matches.
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"omitempty,oneof=allow deny"`

	// AgentHome is the agent's home directory, made writable in sandboxes.
	AgentHome string `yaml:"agent_home" mapstructure:"agent_home"`

	// ShieldBinDir holds the shield's own binaries, allowed in sandboxes.
	ShieldBinDir string `yaml:"shield_bin_dir" mapstructure:"shield_bin_dir"`

	// Policies seeds the policy store at startup. It is a fallback source:
	// policies already present in scoped storage win on id collision.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// PolicyFile optionally names a YAML file with additional seed policies.
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// DevMode enables development conveniences (verbose logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the JSON-RPC HTTP listener.
type ServerConfig struct {
	// RPCAddr is the listen address. Defaults to localhost only.
	RPCAddr string `yaml:"rpc_addr" mapstructure:"rpc_addr" validate:"required,hostname_port"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// BrokerConfig carries broker pass-through settings.
type BrokerConfig struct {
	// HTTPPort is forwarded informationally inside sandbox specs.
	HTTPPort int `yaml:"http_port" mapstructure:"http_port" validate:"omitempty,min=1,max=65535"`
}

// ProxyPoolConfig bounds the per-run egress proxy pool.
type ProxyPoolConfig struct {
	// MaxConcurrent caps live proxies; the oldest is evicted at capacity.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"omitempty,min=1"`
	// IdleTimeout releases a proxy with no traffic for this duration.
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"omitempty,duration"`
}

// IdleTimeoutDuration parses the idle timeout. Call after Validate.
func (c ProxyPoolConfig) IdleTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return 0
	}
	return d
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Path is the SQLite database file. Empty selects in-memory stores.
	Path string `yaml:"path" mapstructure:"path"`
}

// PolicyConfig is the YAML shape of a seed policy. It mirrors the stored
// policy record.
type PolicyConfig struct {
	ID            string   `yaml:"id" mapstructure:"id" validate:"required"`
	Name          string   `yaml:"name" mapstructure:"name"`
	ProfileID     string   `yaml:"profile_id" mapstructure:"profile_id"`
	Action        string   `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny approval"`
	Target        string   `yaml:"target" mapstructure:"target" validate:"required,oneof=url command filesystem skill"`
	Patterns      []string `yaml:"patterns" mapstructure:"patterns" validate:"required,min=1"`
	Operations    []string `yaml:"operations" mapstructure:"operations"`
	Enabled       *bool    `yaml:"enabled" mapstructure:"enabled"`
	Priority      int      `yaml:"priority" mapstructure:"priority"`
	Scope         string   `yaml:"scope" mapstructure:"scope"`
	NetworkAccess string   `yaml:"network_access" mapstructure:"network_access" validate:"omitempty,oneof=none proxy direct"`
}

// ToPolicy converts a seed entry to the domain record. Enabled defaults
// to true when omitted.
func (pc PolicyConfig) ToPolicy() policy.Policy {
	p := policy.Policy{
		ID:            pc.ID,
		Name:          pc.Name,
		ProfileID:     pc.ProfileID,
		Action:        policy.Action(pc.Action),
		Target:        policy.TargetType(pc.Target),
		Patterns:      append([]string(nil), pc.Patterns...),
		Enabled:       pc.Enabled == nil || *pc.Enabled,
		Priority:      pc.Priority,
		Scope:         pc.Scope,
		NetworkAccess: policy.NetworkAccess(pc.NetworkAccess),
	}
	for _, op := range pc.Operations {
		p.Operations = append(p.Operations, policy.Operation(op))
	}
	return p
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; exposing the RPC endpoint is an explicit choice.
	if c.Server.RPCAddr == "" {
		c.Server.RPCAddr = "127.0.0.1:47850"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.DefaultAction == "" {
		c.DefaultAction = "deny"
	}
	if c.Broker.HTTPPort == 0 {
		c.Broker.HTTPPort = 4785
	}
	if c.ProxyPool.MaxConcurrent == 0 {
		c.ProxyPool.MaxConcurrent = 50
	}
	if c.ProxyPool.IdleTimeout == "" {
		c.ProxyPool.IdleTimeout = "5m"
	}
	if c.AgentHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.AgentHome = home
		}
	}
	if c.ShieldBinDir == "" {
		c.ShieldBinDir = "/usr/local/lib/agenshield/bin"
	}
}

// SetDevDefaults applies permissive defaults for development mode, before
// validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.DefaultAction == "" {
		c.DefaultAction = "allow"
	}
}

// Default returns a fully defaulted configuration, for embedding the
// daemon without a config file.
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// StoragePathDir returns the directory holding the database file, or ""
// for in-memory storage.
func (c *Config) StoragePathDir() string {
	if c.Storage.Path == "" {
		return ""
	}
	return filepath.Dir(c.Storage.Path)
}
