// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/yumoh/sse-queue/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the queue service.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Auth      AuthConfig       `yaml:"auth"`
	Storage   StorageConfig    `yaml:"storage"`
	Queue     QueueConfig      `yaml:"queue"`
	Log       LogConfig        `yaml:"log"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Bind              string        `yaml:"bind"`   // one or more host[:port], separated by ';'
	Prefix            string        `yaml:"prefix"` // extra mount point for every route
	TLSCertFile       string        `yaml:"tls_cert_file"`
	TLSKeyFile        string        `yaml:"tls_key_file"`
	TLSClientCAFile   string        `yaml:"tls_client_ca_file"` // enables mutual TLS
	MaxConnections    int           `yaml:"max_connections"` // 0 means unlimited
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	HealthAddr        string        `yaml:"health_addr"`
	MetricsAddr       string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	HealthEnabled     bool          `yaml:"health_enabled"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"` // enables OTel

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// TLSEnabled reports whether the HTTP listeners serve TLS.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" || s.TLSKeyFile != ""
}

// AuthConfig holds the shared secret. An empty token disables auth.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// StorageConfig holds file storage locations.
type StorageConfig struct {
	Workspace     string `yaml:"workspace"`       // buckets, append files and online logs
	Public        string `yaml:"public"`          // served under /static/public
	MaxUploadSize Size   `yaml:"max_upload_size"` // body limit for put, append and upload
}

// QueueConfig holds message queue settings.
type QueueConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	KeepAlive      time.Duration `yaml:"keep_alive"` // idle interval before a stream keep-alive, 0 disables
	MaxMessageSize Size          `yaml:"max_message_size"`
	MaxWait        time.Duration `yaml:"max_wait"` // upper bound for client timeouts
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:              "127.0.0.1:8545",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			HealthAddr:        "127.0.0.1:8546",
			HealthEnabled:     false,
			MetricsAddr:       "localhost:4317",
			MetricsEnabled:    false,

			// OpenTelemetry defaults
			OtelServiceName:     "sse-queue",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false, // Disabled by default for performance
			OtelTraceSampleRate: 0.1,   // 10% sampling when enabled
		},
		Storage: StorageConfig{
			Workspace:     "./data",
			Public:        "./data/public",
			MaxUploadSize: 4 * GiB,
		},
		Queue: QueueConfig{
			PollInterval:   100 * time.Millisecond,
			KeepAlive:      15 * time.Second,
			MaxMessageSize: 10 * MiB,
			MaxWait:        15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Server.ListenAddrs(); err != nil {
		return err
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if c.Server.TLSEnabled() {
		if c.Server.TLSCertFile == "" {
			return fmt.Errorf("server.tls_cert_file required when TLS is enabled")
		}
		if c.Server.TLSKeyFile == "" {
			return fmt.Errorf("server.tls_key_file required when TLS is enabled")
		}
	}
	if c.Server.TLSClientCAFile != "" && !c.Server.TLSEnabled() {
		return fmt.Errorf("server.tls_client_ca_file requires tls_cert_file and tls_key_file")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}
	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr required when health is enabled")
	}

	if c.Storage.Workspace == "" {
		return fmt.Errorf("storage.workspace cannot be empty")
	}
	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("storage.max_upload_size must be positive")
	}

	if c.Queue.PollInterval < time.Millisecond {
		return fmt.Errorf("queue.poll_interval must be at least 1ms")
	}
	if c.Queue.MaxMessageSize < KiB {
		return fmt.Errorf("queue.max_message_size must be at least 1KiB")
	}
	if c.Queue.MaxWait < 0 {
		return fmt.Errorf("queue.max_wait cannot be negative")
	}
	if c.Queue.KeepAlive < 0 {
		return fmt.Errorf("queue.keep_alive cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("ratelimit.rate must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("ratelimit.burst must be at least 1 when rate limiting is enabled")
		}
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
