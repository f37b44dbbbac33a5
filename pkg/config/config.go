// Package config holds process configuration and the sandbox template
// catalog for the orchestration agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full configuration of the orchestration agent process.
type Config struct {
	// AgentName identifies this agent on the A2A network.
	AgentName string `yaml:"agent_name" validate:"required"`
	// HostURL is the public URL peers use to reach this agent's A2A endpoint.
	HostURL string `yaml:"host_url" validate:"required,url"`
	// APIURL is the base URL of the Daytona API.
	APIURL string `yaml:"api_url" validate:"required,url"`
	// APIKey authenticates against the Daytona API (optional).
	APIKey string `yaml:"api_key"`

	// Host and Port bind the A2A endpoint.
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
	// AdminPort binds the admin HTTP API.
	AdminPort int `yaml:"admin_port" validate:"gte=1,lte=65535"`

	LogLevel string `yaml:"log_level" validate:"oneof=DEBUG INFO WARNING ERROR"`

	// HeartbeatInterval between peer liveness probes.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// RequestTimeout for remote Daytona calls.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// TemplatesFile optionally overrides the built-in template catalog.
	TemplatesFile string `yaml:"templates_file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		AgentName:         "sandbox-orchestrator",
		HostURL:           "http://localhost:8080",
		APIURL:            "http://localhost:8090",
		Host:              "127.0.0.1",
		Port:              8080,
		AdminPort:         8081,
		LogLevel:          "INFO",
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    60 * time.Second,
	}
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variable overrides onto the configuration.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ORCHESTRATOR_AGENT_NAME"); v != "" {
		c.AgentName = v
	}
	if v := os.Getenv("ORCHESTRATOR_HOST_URL"); v != "" {
		c.HostURL = v
	}
	if v := os.Getenv("DAYTONA_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("DAYTONA_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("ORCHESTRATOR_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.AdminPort = port
		}
	}
}
