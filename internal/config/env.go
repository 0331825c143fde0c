package config

import (
	"os"
	"strconv"
)

// LoadFromEnv applies environment overrides on top of the loaded config.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("MERIDIAN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("MERIDIAN_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	if host := os.Getenv("MERIDIAN_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("MERIDIAN_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if name := os.Getenv("MERIDIAN_DB_NAME"); name != "" {
		cfg.Database.Database = name
	}
	if user := os.Getenv("MERIDIAN_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("MERIDIAN_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if pool := os.Getenv("MERIDIAN_DNS_POOL"); pool != "" {
		cfg.DNS.PoolName = pool
	}
	if hostname := os.Getenv("MERIDIAN_DNS_HOSTNAME"); hostname != "" {
		cfg.DNS.Hostname = hostname
	}
}

// GetEnvOrDefault returns the environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
