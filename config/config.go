package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Validator ValidatorConfig `mapstructure:"validator"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EngineConfig holds execution engine configuration
type EngineConfig struct {
	DefaultTimeoutSec int `mapstructure:"default_timeout_sec"`
	MaxTimeoutSec     int `mapstructure:"max_timeout_sec"`
	// MaxConcurrent bounds the number of simultaneously running sandboxes.
	// Zero means unlimited.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// SandboxConfig holds isolation runtime configuration
type SandboxConfig struct {
	Image         string  `mapstructure:"image"`
	MemoryMB      int     `mapstructure:"memory_mb"`
	CPUs          float64 `mapstructure:"cpus"`
	User          string  `mapstructure:"user"`
	WorkspaceRoot string  `mapstructure:"workspace_root"`
}

// ValidatorConfig holds import validator configuration
type ValidatorConfig struct {
	AllowedModules []string `mapstructure:"allowed_modules"`
}

// defaultAllowedModules mirrors the library set baked into the default
// sandbox image. Overridable via validator.allowed_modules.
var defaultAllowedModules = []string{
	"pandas", "numpy", "openpyxl", "xlsxwriter", "PyPDF2", "pdfplumber",
	"python_docx", "python_pptx", "PIL", "pytesseract", "matplotlib",
	"plotly", "seaborn", "reportlab",
	"json", "csv", "datetime", "re", "os", "io", "sys",
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Set default values
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("engine.default_timeout_sec", 30)
	v.SetDefault("engine.max_timeout_sec", 90)
	v.SetDefault("engine.max_concurrent", 0)
	v.SetDefault("sandbox.image", "python:3.11-slim")
	v.SetDefault("sandbox.memory_mb", 512)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.user", "1000:1000")
	v.SetDefault("sandbox.workspace_root", filepath.Join(os.TempDir(), "secrun-workspace"))
	v.SetDefault("validator.allowed_modules", defaultAllowedModules)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Engine.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("engine.default_timeout_sec must be positive, got: %d", c.Engine.DefaultTimeoutSec)
	}

	if c.Engine.MaxTimeoutSec <= 0 {
		return fmt.Errorf("engine.max_timeout_sec must be positive, got: %d", c.Engine.MaxTimeoutSec)
	}

	if c.Engine.DefaultTimeoutSec > c.Engine.MaxTimeoutSec {
		return fmt.Errorf("engine.default_timeout_sec (%d) must not exceed engine.max_timeout_sec (%d)",
			c.Engine.DefaultTimeoutSec, c.Engine.MaxTimeoutSec)
	}

	if c.Engine.MaxConcurrent < 0 {
		return fmt.Errorf("engine.max_concurrent must not be negative, got: %d", c.Engine.MaxConcurrent)
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %f", c.Sandbox.CPUs)
	}

	if c.Sandbox.WorkspaceRoot == "" {
		return fmt.Errorf("sandbox.workspace_root must not be empty")
	}

	// A relative root would become a relative bind-mount source, which the
	// container runtime treats as a named volume instead of a host path.
	if !filepath.IsAbs(c.Sandbox.WorkspaceRoot) {
		return fmt.Errorf("sandbox.workspace_root must be an absolute path, got: %q", c.Sandbox.WorkspaceRoot)
	}

	if len(c.Validator.AllowedModules) == 0 {
		return fmt.Errorf("validator.allowed_modules must not be empty")
	}

	return nil
}

// DefaultTimeout returns the default execution timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Engine.DefaultTimeoutSec) * time.Second
}

// MaxTimeout returns the maximum allowed execution timeout as a duration
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Engine.MaxTimeoutSec) * time.Second
}

// MemoryBytes returns the sandbox memory ceiling in bytes
func (c *Config) MemoryBytes() int64 {
	return int64(c.Sandbox.MemoryMB) * 1024 * 1024
}
