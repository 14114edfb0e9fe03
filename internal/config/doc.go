// Package config handles configuration loading for cs-broker.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cs-broker/broker.yaml
//  3. ~/.config/cs-broker/broker.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  http_addr: "${CS_HTTP_ADDR}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	broker:
//	  match_debounce: "200ms"
//	  heartbeat_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "localhost:8080"
//
// Broker settings (zero values fall back to defaults):
//
//	broker:
//	  max_sessions: 1000
//	  default_agent_capacity: 3
//	  match_debounce: "200ms"
//	  heartbeat_interval: "30s"
//
// Logging settings:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
