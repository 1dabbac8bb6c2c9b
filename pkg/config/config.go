package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfig describes one predefined execution environment: an engine paired
// with a file transport, identified by a stable id.
type EnvConfig struct {
	ID        string `yaml:"id"`
	Engine    string `yaml:"engine"` // shell | server
	URL       string `yaml:"url,omitempty"`
	Token     string `yaml:"token,omitempty"`
	Transport string `yaml:"transport,omitempty"` // local (default) | ssh
	SSH       string `yaml:"ssh,omitempty"`       // user@host for the ssh transport
}

// Config is the orchestrator configuration, loaded once at startup.
type Config struct {
	PollInterval string      `yaml:"pollInterval,omitempty"`
	Store        string      `yaml:"store,omitempty"` // sqlite (default) | consul
	ConsulAddr   string      `yaml:"consulAddr,omitempty"`
	PinDigests   bool        `yaml:"pinDigests,omitempty"`
	Environments []EnvConfig `yaml:"environments,omitempty"`
}

// Interval returns the parsed poll interval, defaulting to 5s.
func (c Config) Interval() time.Duration {
	if c.PollInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Load reads the YAML config at path (optional) after loading a local .env.
// Environment variables override file values.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("FLOWHERD_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("FLOWHERD_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("CONSUL_ADDR"); v != "" {
		cfg.ConsulAddr = v
	}
	return cfg, nil
}
