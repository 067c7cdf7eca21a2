// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

// Package config loads and validates the Adviso configuration from defaults,
// an optional config file, and ADVISO_-prefixed environment variables.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	adverr "github.com/adviso-dev/adviso/pkg/errors"
)

// Config is the top-level Adviso configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Storage     StorageConfig             `mapstructure:"storage"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Models      ModelsConfig              `mapstructure:"models"`
	Prompt      PromptConfig              `mapstructure:"prompt"`
	Admission   AdmissionConfig           `mapstructure:"admission"`
	Maintenance MaintenanceConfig         `mapstructure:"maintenance"`
}

// ServerConfig controls how Adviso listens for connections.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// AdminToken authorizes the maintenance trigger surface. Empty disables
	// the admin endpoints entirely.
	AdminToken     string   `mapstructure:"admin_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig selects where the SQLite databases live.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	// VectorDimensions must match the embedding model's output size.
	VectorDimensions int `mapstructure:"vector_dimensions"`
}

// ProviderConfig holds credentials and endpoint for an external API.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection.
type ModelsConfig struct {
	Default   string `mapstructure:"default"`
	Embedding string `mapstructure:"embedding"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// PromptConfig controls the layered prompt builder and the session warmer.
type PromptConfig struct {
	CoreText      string        `mapstructure:"core_text"`
	DomainText    string        `mapstructure:"domain_text"`
	ContextBudget int           `mapstructure:"context_budget"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
}

// AdmissionConfig carries per-resource sliding-window limits.
type AdmissionConfig struct {
	Limits map[string]LimitConfig `mapstructure:"limits"`
	// SweepInterval is how often expired windows are deleted.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LimitConfig is one resource's window bound.
type LimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// MaintenanceConfig tunes the batch pipeline and its weekly schedule.
type MaintenanceConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	ChunkSize   int  `mapstructure:"chunk_size"`
	ArchiveDays int  `mapstructure:"archive_days"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix ADVISO_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:8470")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.vector_dimensions", 1536)
	v.SetDefault("models.default", "claude-sonnet-4-5")
	v.SetDefault("models.embedding", "text-embedding-3-small")
	v.SetDefault("models.max_tokens", 2048)
	v.SetDefault("prompt.core_text", "You are a professional advisory assistant. Answer only within the client's engagement scope, never reveal implementation details, and flag anything requiring a licensed professional's sign-off.")
	v.SetDefault("prompt.context_budget", 200000)
	v.SetDefault("prompt.ping_interval", 4*time.Minute)
	v.SetDefault("prompt.idle_timeout", 10*time.Minute)
	v.SetDefault("admission.sweep_interval", 5*time.Minute)
	v.SetDefault("admission.limits.llm.max_requests", 30)
	v.SetDefault("admission.limits.llm.window", time.Minute)
	v.SetDefault("admission.limits.embedding.max_requests", 120)
	v.SetDefault("admission.limits.embedding.window", time.Minute)
	v.SetDefault("admission.limits.ingest.max_requests", 60)
	v.SetDefault("admission.limits.ingest.window", time.Minute)
	v.SetDefault("admission.limits.generic.max_requests", 300)
	v.SetDefault("admission.limits.generic.window", time.Minute)
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.chunk_size", 50)
	v.SetDefault("maintenance.archive_days", 90)

	// Environment
	v.SetEnvPrefix("ADVISO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, adverr.Errorf(adverr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns every
// validation error found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validatePrompt()...)
	errs = append(errs, c.validateAdmission()...)
	errs = append(errs, c.validateMaintenance()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if c.Storage.DataDir == "" {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "config: storage.data_dir must not be empty"))
	}
	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: storage.vector_dimensions must be greater than 0, got %d",
			c.Storage.VectorDimensions,
		))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	if c.Models.Default == "" {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "config: models.default must not be empty"))
	}
	if c.Models.Embedding == "" {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "config: models.embedding must not be empty"))
	}
	if c.Models.MaxTokens <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: models.max_tokens must be greater than 0, got %d",
			c.Models.MaxTokens,
		))
	}

	return errs
}

func (c *Config) validatePrompt() []error {
	var errs []error

	if strings.TrimSpace(c.Prompt.CoreText) == "" {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue, "config: prompt.core_text must not be empty"))
	}
	if c.Prompt.ContextBudget <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: prompt.context_budget must be greater than 0, got %d",
			c.Prompt.ContextBudget,
		))
	}
	if c.Prompt.PingInterval <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: prompt.ping_interval must be positive, got %s",
			c.Prompt.PingInterval,
		))
	}
	if c.Prompt.IdleTimeout <= c.Prompt.PingInterval {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: prompt.idle_timeout must exceed prompt.ping_interval, got %s <= %s",
			c.Prompt.IdleTimeout, c.Prompt.PingInterval,
		))
	}

	return errs
}

func (c *Config) validateAdmission() []error {
	var errs []error

	for resource, limit := range c.Admission.Limits {
		if limit.MaxRequests <= 0 {
			errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
				"config: admission.limits.%s.max_requests must be greater than 0, got %d",
				resource, limit.MaxRequests,
			))
		}
		if limit.Window <= 0 {
			errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
				"config: admission.limits.%s.window must be positive, got %s",
				resource, limit.Window,
			))
		}
	}
	if c.Admission.SweepInterval <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: admission.sweep_interval must be positive, got %s",
			c.Admission.SweepInterval,
		))
	}

	return errs
}

func (c *Config) validateMaintenance() []error {
	var errs []error

	if c.Maintenance.ChunkSize <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: maintenance.chunk_size must be greater than 0, got %d",
			c.Maintenance.ChunkSize,
		))
	}
	if c.Maintenance.ArchiveDays <= 0 {
		errs = append(errs, adverr.Errorf(adverr.CodeConfigValidateInvalidValue,
			"config: maintenance.archive_days must be greater than 0, got %d",
			c.Maintenance.ArchiveDays,
		))
	}

	return errs
}
