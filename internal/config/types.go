// Package config provides configuration loading for the stub resolver
// using Viper. Configuration is loaded from a YAML file with automatic
// environment variable binding.
//
// Environment variables use the STUBRESOLVE_ prefix and
// underscore-separated keys:
//   - STUBRESOLVE_LISTEN_PRIMARY_PORT -> listen.primary_port
//   - STUBRESOLVE_UPSTREAM_SERVER -> upstream.server
//   - STUBRESOLVE_DIAG_ENABLED -> diag.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how the per-socket worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the per-socket worker count setting.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ListenConfig describes the primary loopback listener and any
// operator-configured extra listeners.
type ListenConfig struct {
	PrimaryAddress string                `yaml:"primary_address" mapstructure:"primary_address"`
	PrimaryPort    int                   `yaml:"primary_port"     mapstructure:"primary_port"`
	Workers        WorkerSetting         `yaml:"-"                mapstructure:"-"`
	WorkersRaw     string                `yaml:"workers"          mapstructure:"workers"`
	ExtraListeners []ExtraListenerConfig `yaml:"extra"            mapstructure:"extra"`
}

// ExtraListenerConfig is one operator-configured extra listener, bound
// beyond the primary loopback socket (e.g. for a VPN or container
// bridge interface). Unlike the primary listener, its address may not
// yet be present on any interface, which is why it binds with
// IP_FREEBIND rather than failing startup.
type ExtraListenerConfig struct {
	Network string `yaml:"network" mapstructure:"network"` // "udp", "tcp", or "both"
	Address string `yaml:"address" mapstructure:"address"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// UpstreamConfig contains the reference Forwarding resolver's upstream
// settings. Deployments wiring in a different resolver.Resolver ignore
// this section entirely.
type UpstreamConfig struct {
	Server     string `yaml:"server"      mapstructure:"server"`
	UDPTimeout string `yaml:"udp_timeout" mapstructure:"udp_timeout"`
	TCPTimeout string `yaml:"tcp_timeout" mapstructure:"tcp_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string `yaml:"level"             mapstructure:"level"`
	Structured       bool   `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool   `yaml:"include_pid"       mapstructure:"include_pid"`
}

// RateLimitConfig controls rate limiting settings.
type RateLimitConfig struct {
	CleanupSeconds   float64 `yaml:"cleanup_seconds"    mapstructure:"cleanup_seconds"`
	MaxIPEntries     int     `yaml:"max_ip_entries"     mapstructure:"max_ip_entries"`
	MaxPrefixEntries int     `yaml:"max_prefix_entries" mapstructure:"max_prefix_entries"`
	GlobalQPS        float64 `yaml:"global_qps"         mapstructure:"global_qps"`
	GlobalBurst      int     `yaml:"global_burst"       mapstructure:"global_burst"`
	PrefixQPS        float64 `yaml:"prefix_qps"         mapstructure:"prefix_qps"`
	PrefixBurst      int     `yaml:"prefix_burst"       mapstructure:"prefix_burst"`
	IPQPS            float64 `yaml:"ip_qps"             mapstructure:"ip_qps"`
	IPBurst          int     `yaml:"ip_burst"           mapstructure:"ip_burst"`
}

// NSIDConfig controls the EDNS(0) NSID option advertised by the primary
// listener.
type NSIDConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Salt    string `yaml:"salt"    mapstructure:"salt"` // hex-encoded 16 bytes; random if empty
}

// DiagConfig contains the diagnostics-only HTTP API settings.
//
// Note: this surface is read-only and carries no secrets, so unlike the
// teacher's management API there is no API key.
type DiagConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
}

// Config is the root configuration structure.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"     mapstructure:"listen"`
	Upstream  UpstreamConfig  `yaml:"upstream"   mapstructure:"upstream"`
	Logging   LoggingConfig   `yaml:"logging"    mapstructure:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	NSID      NSIDConfig      `yaml:"nsid"       mapstructure:"nsid"`
	Diag      DiagConfig      `yaml:"diag"       mapstructure:"diag"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("STUBRESOLVE_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable
// overrides. This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (STUBRESOLVE_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
