// Package config loads the service configuration from a yaml file with
// environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/FairForge/meridian/internal/dns"
	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/prober"
	"github.com/FairForge/meridian/internal/store"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  store.Config    `yaml:"database"`
	Probe     prober.Config   `yaml:"probe"`
	Failover  failover.Config `yaml:"failover"`
	DNS       dns.Config      `yaml:"dns"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type SchedulerConfig struct {
	// ProbeSpec is the cron spec for the health-check batch.
	ProbeSpec string `yaml:"probe_spec"`
	// PromoteSpec is the cron spec for promoting due scheduled failovers.
	PromoteSpec string `yaml:"promote_spec"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Database: store.Config{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Probe:    prober.DefaultConfig(),
		Failover: failover.DefaultConfig(),
		DNS: dns.Config{
			CutoverTTL: 60,
			RateLimit:  10,
		},
		Scheduler: SchedulerConfig{
			ProbeSpec:   "@every 30s",
			PromoteSpec: "@every 15s",
		},
	}
}

// Load reads a yaml file over the defaults and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadFromEnv(cfg)
	return cfg, nil
}
