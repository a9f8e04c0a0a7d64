package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvHost      = "OLLAMA_HOST"
	EnvModel     = "OLLAMA_BENCHMARK_MODEL"
	EnvAPIKey    = "OLLAMA_BENCHMARK_API_KEY"
	EnvStore     = "OLLAMA_BENCHMARK_STORE"
	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
)

// ApplyEnv overrides settings with the environment variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if host := getenv(EnvHost); host != "" {
		c.Host = host
	}
	if model := getenv(EnvModel); model != "" {
		c.Model = model
	}
	if key := getenv(EnvAPIKey); key != "" {
		c.APIKey = key
	}
	if store := getenv(EnvStore); store != "" {
		c.Store = store
	}
	if port := getenv(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Port = p
	}
	if level := getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
	if format := getenv(EnvLogFormat); format != "" {
		c.LogFormat = format
	}
	return nil
}

// IsEnvironmentConfigAvailable checks if any setting comes from the environment
func IsEnvironmentConfigAvailable(getenv func(string) string) bool {
	for _, key := range []string{EnvHost, EnvModel, EnvAPIKey, EnvStore, EnvPort, EnvLogLevel, EnvLogFormat} {
		if getenv(key) != "" {
			return true
		}
	}
	return false
}

// ValidateEnvironmentConfig validates environment variable configuration
func ValidateEnvironmentConfig(getenv func(string) string) []string {
	var errors []string

	if host := getenv(EnvHost); host != "" && !isValidURL(normalizeHost(host)) {
		errors = append(errors, fmt.Sprintf("Invalid %s: %s", EnvHost, host))
	}

	if port := getenv(EnvPort); port != "" {
		if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			errors = append(errors, fmt.Sprintf("Invalid %s: %s", EnvPort, port))
		}
	}

	if level := getenv(EnvLogLevel); level != "" {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "warning", "error", "fatal":
		default:
			errors = append(errors, fmt.Sprintf("Invalid %s: %s", EnvLogLevel, level))
		}
	}

	if format := getenv(EnvLogFormat); format != "" && format != "json" && format != "text" {
		errors = append(errors, fmt.Sprintf("Invalid %s: %s (use json or text)", EnvLogFormat, format))
	}

	return errors
}

// isValidURL validates if a URL is properly formatted
func isValidURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	// Check if it has a scheme and host
	return parsedURL.Scheme != "" && parsedURL.Host != ""
}
