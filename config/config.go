// Package config provides configuration loading for the flow runtime:
// the application config file and the flow definition loader.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/flowrunner/template"
)

// Config represents the complete application configuration
type Config struct {
	// FlowDir is the directory scanned for flow definition files
	FlowDir string `yaml:"flow_dir"`
	// HostAddr is the listen address of the HTTP trigger server
	HostAddr string `yaml:"host_addr"`
	// ChannelCapacity is the default buffer size of stream channels
	ChannelCapacity int `yaml:"channel_capacity"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		FlowDir:         "flows",
		HostAddr:        "127.0.0.1:8080",
		ChannelCapacity: 1024,
		LogLevel:        "info",
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.FlowDir == "" {
		return fmt.Errorf("flow_dir is required")
	}
	if c.HostAddr == "" {
		return fmt.Errorf("host_addr is required")
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}

// LoadFromFile loads configuration from a YAML file. Environment
// references in the file are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(template.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.FlowDir != "" {
		c.FlowDir = other.FlowDir
	}
	if other.HostAddr != "" {
		c.HostAddr = other.HostAddr
	}
	if other.ChannelCapacity != 0 {
		c.ChannelCapacity = other.ChannelCapacity
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
