// Package config provides configuration loading and validation for the
// stub resolver.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/dnsstub/main.go)
//  2. Environment variables (STUBRESOLVE_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from STUBRESOLVE_CATEGORY_SETTING
// format, e.g., STUBRESOLVE_LISTEN_PRIMARY_PORT maps to
// listen.primary_port in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("STUBRESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values. The primary listener
// defaults to 127.0.0.53:53, matching the conventional systemd-resolved
// stub address so resolv.conf-based clients find it without
// reconfiguration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.primary_address", "127.0.0.53")
	v.SetDefault("listen.primary_port", 53)
	v.SetDefault("listen.workers", "auto")
	v.SetDefault("listen.extra", []ExtraListenerConfig{})

	v.SetDefault("upstream.server", "8.8.8.8:53")
	v.SetDefault("upstream.udp_timeout", "3s")
	v.SetDefault("upstream.tcp_timeout", "5s")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)

	v.SetDefault("rate_limit.cleanup_seconds", 60.0)
	v.SetDefault("rate_limit.max_ip_entries", 65536)
	v.SetDefault("rate_limit.max_prefix_entries", 16384)
	v.SetDefault("rate_limit.global_qps", 100000.0)
	v.SetDefault("rate_limit.global_burst", 100000)
	v.SetDefault("rate_limit.prefix_qps", 10000.0)
	v.SetDefault("rate_limit.prefix_burst", 20000)
	v.SetDefault("rate_limit.ip_qps", 3000.0)
	v.SetDefault("rate_limit.ip_burst", 6000)

	v.SetDefault("nsid.enabled", true)
	v.SetDefault("nsid.salt", "")

	// Diagnostics default to disabled and bound to localhost for safety.
	v.SetDefault("diag.enabled", false)
	v.SetDefault("diag.host", "127.0.0.1")
	v.SetDefault("diag.port", 8080)
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadListenConfig(v, cfg)
	loadUpstreamConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadRateLimitConfig(v, cfg)
	loadNSIDConfig(v, cfg)
	loadDiagConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadListenConfig(v *viper.Viper, cfg *Config) {
	cfg.Listen.PrimaryAddress = v.GetString("listen.primary_address")
	cfg.Listen.PrimaryPort = v.GetInt("listen.primary_port")
	cfg.Listen.WorkersRaw = v.GetString("listen.workers")
	cfg.Listen.Workers = parseWorkers(cfg.Listen.WorkersRaw)

	if err := v.UnmarshalKey("listen.extra", &cfg.Listen.ExtraListeners); err != nil {
		cfg.Listen.ExtraListeners = nil
	}
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Upstream.Server = strings.TrimSpace(v.GetString("upstream.server"))
	cfg.Upstream.UDPTimeout = v.GetString("upstream.udp_timeout")
	cfg.Upstream.TCPTimeout = v.GetString("upstream.tcp_timeout")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
}

func loadRateLimitConfig(v *viper.Viper, cfg *Config) {
	cfg.RateLimit.CleanupSeconds = v.GetFloat64("rate_limit.cleanup_seconds")
	cfg.RateLimit.MaxIPEntries = v.GetInt("rate_limit.max_ip_entries")
	cfg.RateLimit.MaxPrefixEntries = v.GetInt("rate_limit.max_prefix_entries")
	cfg.RateLimit.GlobalQPS = v.GetFloat64("rate_limit.global_qps")
	cfg.RateLimit.GlobalBurst = v.GetInt("rate_limit.global_burst")
	cfg.RateLimit.PrefixQPS = v.GetFloat64("rate_limit.prefix_qps")
	cfg.RateLimit.PrefixBurst = v.GetInt("rate_limit.prefix_burst")
	cfg.RateLimit.IPQPS = v.GetFloat64("rate_limit.ip_qps")
	cfg.RateLimit.IPBurst = v.GetInt("rate_limit.ip_burst")
}

func loadNSIDConfig(v *viper.Viper, cfg *Config) {
	cfg.NSID.Enabled = v.GetBool("nsid.enabled")
	cfg.NSID.Salt = v.GetString("nsid.salt")
}

func loadDiagConfig(v *viper.Viper, cfg *Config) {
	cfg.Diag.Enabled = v.GetBool("diag.enabled")
	cfg.Diag.Host = v.GetString("diag.host")
	cfg.Diag.Port = v.GetInt("diag.port")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Listen.PrimaryPort <= 0 || cfg.Listen.PrimaryPort > 65535 {
		return errors.New("listen.primary_port must be 1..65535")
	}

	if cfg.Upstream.Server == "" {
		cfg.Upstream.Server = "8.8.8.8:53"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}

	for _, extra := range cfg.Listen.ExtraListeners {
		if extra.Port <= 0 || extra.Port > 65535 {
			return fmt.Errorf("listen.extra: invalid port %d for address %q", extra.Port, extra.Address)
		}
	}

	if cfg.Diag.Host == "" {
		cfg.Diag.Host = "127.0.0.1"
	}
	if cfg.Diag.Enabled {
		if cfg.Diag.Port <= 0 || cfg.Diag.Port > 65535 {
			return errors.New("diag.port must be 1..65535")
		}
	}

	return nil
}
