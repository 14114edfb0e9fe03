// ABOUTME: Configuration loading and parsing for cs-broker
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to broker settings left unset in the config file.
const (
	DefaultMaxSessions       = 1000
	DefaultAgentCapacity     = 3
	DefaultMatchDebounce     = 200 * time.Millisecond
	DefaultHeartbeatInterval = 30 * time.Second
)

// Config represents the complete cs-broker configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Broker  BrokerConfig  `yaml:"broker"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BrokerConfig holds matching and liveness tuning for the broker core
type BrokerConfig struct {
	// MaxSessions caps concurrently active conversations across all agents.
	MaxSessions int `yaml:"max_sessions"`

	// DefaultAgentCapacity is used when an agent declares no capacity.
	DefaultAgentCapacity int `yaml:"default_agent_capacity"`

	MatchDebounce     time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MatchDebounceRaw     string `yaml:"match_debounce"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied for broker fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued broker settings.
func (c *Config) applyDefaults() {
	if c.Broker.MaxSessions == 0 {
		c.Broker.MaxSessions = DefaultMaxSessions
	}
	if c.Broker.DefaultAgentCapacity == 0 {
		c.Broker.DefaultAgentCapacity = DefaultAgentCapacity
	}
	if c.Broker.MatchDebounce == 0 {
		c.Broker.MatchDebounce = DefaultMatchDebounce
	}
	if c.Broker.HeartbeatInterval == 0 {
		c.Broker.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Broker.MaxSessions < 0 {
		return fmt.Errorf("broker.max_sessions must not be negative")
	}
	if c.Broker.DefaultAgentCapacity < 0 {
		return fmt.Errorf("broker.default_agent_capacity must not be negative")
	}
	if c.Broker.MatchDebounce < 0 {
		return fmt.Errorf("broker.match_debounce must not be negative")
	}
	if c.Broker.HeartbeatInterval < 0 {
		return fmt.Errorf("broker.heartbeat_interval must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Broker.MatchDebounceRaw != "" {
		cfg.Broker.MatchDebounce, err = time.ParseDuration(cfg.Broker.MatchDebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing match_debounce %q: %w", cfg.Broker.MatchDebounceRaw, err)
		}
	}

	if cfg.Broker.HeartbeatIntervalRaw != "" {
		cfg.Broker.HeartbeatInterval, err = time.ParseDuration(cfg.Broker.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Broker.HeartbeatIntervalRaw, err)
		}
	}

	return nil
}
