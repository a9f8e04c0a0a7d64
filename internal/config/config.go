// Package config loads benchmark settings. Precedence, highest first:
// command line flags (applied by the caller), environment variables, the
// config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v4"
)

const (
	APIOllama = "ollama"
	APIOpenAI = "openai"

	DefaultHost             = "http://127.0.0.1:11434"
	DefaultTimeout          = 300 * time.Second
	DefaultMonitoringOutput = "monitoring.json"
	DefaultPort             = 8080
)

// DefaultQuestions is the question set used when none is configured.
var DefaultQuestions = []string{"81"}

// Config holds every setting of the speed, serve and history commands.
type Config struct {
	Host    string        `yaml:"host" toml:"host"`
	API     string        `yaml:"api" toml:"api"`
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	Model          string         `yaml:"model" toml:"model"`
	Questions      []string       `yaml:"questions" toml:"questions"`
	QuestionsFile  string         `yaml:"questions_file" toml:"questions_file"`
	MaxWorkers     int            `yaml:"max_workers" toml:"max_workers"`
	MaxTurns       int            `yaml:"max_turns" toml:"max_turns"`
	Pull           bool           `yaml:"pull" toml:"pull"`
	Prewarm        bool           `yaml:"prewarm" toml:"prewarm"`
	TokenizerModel string         `yaml:"tokenizer_model" toml:"tokenizer_model"`
	Options        map[string]any `yaml:"options" toml:"options"`

	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`

	Store string `yaml:"store" toml:"store"`
	Port  int    `yaml:"port" toml:"port"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// MonitoringConfig configures the resource monitor.
type MonitoringConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Output   string        `yaml:"output" toml:"output"`
	Interval time.Duration `yaml:"interval" toml:"interval"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:       DefaultHost,
		API:        APIOllama,
		Timeout:    DefaultTimeout,
		Questions:  append([]string(nil), DefaultQuestions...),
		MaxWorkers: 1,
		Options:    map[string]any{},
		Monitoring: MonitoringConfig{
			Output:   DefaultMonitoringOutput,
			Interval: time.Second,
		},
		Port:     DefaultPort,
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (use .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if c.Options == nil {
		c.Options = map[string]any{}
	}
	return nil
}

// Validate checks the settings and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	for _, msg := range ValidateEnvironmentConfig(os.Getenv) {
		errs = append(errs, errors.New(msg))
	}
	if !isValidURL(normalizeHost(c.Host)) {
		errs = append(errs, fmt.Errorf("invalid host: %s", c.Host))
	}
	if c.API != APIOllama && c.API != APIOpenAI {
		errs = append(errs, fmt.Errorf("api must be %q or %q, got %q", APIOllama, APIOpenAI, c.API))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max workers must be at least 1, got %d", c.MaxWorkers))
	}
	if c.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max turns must not be negative, got %d", c.MaxTurns))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Monitoring.Interval <= 0 {
		errs = append(errs, fmt.Errorf("monitoring interval must be positive, got %s", c.Monitoring.Interval))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	return errors.Join(errs...)
}

func normalizeHost(host string) string {
	if host != "" && !strings.Contains(host, "://") {
		return "http://" + host
	}
	return host
}
