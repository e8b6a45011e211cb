// Package config loads service configuration from environment variables
// and an optional YAML server manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Bridge  BridgeConfig
	Servers []ServerSpec
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// BridgeConfig holds per-bridge behavior settings.
type BridgeConfig struct {
	RequestTimeout time.Duration
	TerminateGrace time.Duration
	RatePerSecond  float64
	RateBurst      int
}

// ServerSpec describes one stdio MCP server to spawn and expose.
type ServerSpec struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`
}

// manifest is the YAML file shape pointed to by MCPBRIDGE_CONFIG.
type manifest struct {
	Servers []ServerSpec `yaml:"servers"`
}

// Load reads configuration from environment variables. Servers come from
// the YAML manifest named by MCPBRIDGE_CONFIG, or from MCPBRIDGE_COMMAND
// when no manifest is given.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("MCPBRIDGE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// The write timeout must outlast the request timeout or the HTTP
	// server cuts off callers still waiting on the child.
	writeTimeout, err := getEnvDuration("MCPBRIDGE_SERVER_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	requestTimeout, err := getEnvDuration("MCPBRIDGE_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	terminateGrace, err := getEnvDuration("MCPBRIDGE_TERMINATE_GRACE", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	ratePerSecond, err := getEnvFloat("MCPBRIDGE_RATE_PER_SECOND", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("MCPBRIDGE_RATE_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	servers, err := loadServers()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("MCPBRIDGE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("MCPBRIDGE_CORS_ORIGINS", []string{"*"}),
		},
		Bridge: BridgeConfig{
			RequestTimeout: requestTimeout,
			TerminateGrace: terminateGrace,
			RatePerSecond:  ratePerSecond,
			RateBurst:      rateBurst,
		},
		Servers: servers,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// loadServers resolves the server list from the manifest file or the
// single-server environment fallback.
func loadServers() ([]ServerSpec, error) {
	if path := os.Getenv("MCPBRIDGE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return m.Servers, nil
	}

	command := os.Getenv("MCPBRIDGE_COMMAND")
	if command == "" {
		return nil, errors.New("MCPBRIDGE_CONFIG or MCPBRIDGE_COMMAND is required")
	}

	return []ServerSpec{{
		Name:    getEnv("MCPBRIDGE_SERVER_NAME", "mcp"),
		Command: command,
		Args:    strings.Fields(os.Getenv("MCPBRIDGE_ARGS")),
	}}, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("MCPBRIDGE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("MCPBRIDGE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Bridge.RequestTimeout <= 0 {
		return fmt.Errorf("MCPBRIDGE_REQUEST_TIMEOUT must be positive, got %s", c.Bridge.RequestTimeout)
	}
	if c.Server.WriteTimeout <= c.Bridge.RequestTimeout {
		return fmt.Errorf("MCPBRIDGE_SERVER_WRITE_TIMEOUT (%s) must exceed MCPBRIDGE_REQUEST_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Bridge.RequestTimeout)
	}
	if c.Bridge.TerminateGrace <= 0 {
		return fmt.Errorf("MCPBRIDGE_TERMINATE_GRACE must be positive, got %s", c.Bridge.TerminateGrace)
	}
	if c.Bridge.RatePerSecond <= 0 {
		return fmt.Errorf("MCPBRIDGE_RATE_PER_SECOND must be positive, got %g", c.Bridge.RatePerSecond)
	}
	if c.Bridge.RateBurst < 1 {
		return fmt.Errorf("MCPBRIDGE_RATE_BURST must be >= 1, got %d", c.Bridge.RateBurst)
	}

	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if strings.ContainsAny(s.Name, "/ ") {
			return fmt.Errorf("server %q: name must not contain slashes or spaces", s.Name)
		}
		if s.Command == "" {
			return fmt.Errorf("server %q: command is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
