// Copyright 2026 The CZ7 Host Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	Backends      BackendsConfig
	Storage       StorageConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// SecurityConfig holds token verification settings
type SecurityConfig struct {
	JWTSecret string
	JWTIssuer string
}

// BackendsConfig holds container engine and hypervisor settings
type BackendsConfig struct {
	ContainerEnabled     bool
	ContainerStopTimeout time.Duration
	HypervisorEnabled    bool
	LibvirtSocket        string
	LibvirtURI           string
	VMBaseImage          string
	VMDiskDir            string
	CallTimeout          time.Duration
	ImageCatalogPath     string
}

// StorageConfig holds the filesystem roots for service data and backups
type StorageConfig struct {
	ServiceDataRoot string
	BackupRoot      string
	RestoreMode     string
}

// Restore modes accepted by RESTORE_MODE
const (
	RestoreModeClearFirst = "clear-first"
	RestoreModeStageFirst = "stage-first"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "6m"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "cz7host"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "cz7host"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "cz7host"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Backends: BackendsConfig{
			ContainerEnabled:     parseBool("CONTAINER_ENABLED", true),
			ContainerStopTimeout: parseDuration("CONTAINER_STOP_TIMEOUT", "30s"),
			HypervisorEnabled:    parseBool("HYPERVISOR_ENABLED", false),
			LibvirtSocket:        getEnv("LIBVIRT_SOCKET", "/var/run/libvirt/libvirt-sock"),
			LibvirtURI:           getEnv("LIBVIRT_URI", "qemu:///system"),
			VMBaseImage:          getEnv("VM_BASE_IMAGE", "/var/lib/libvirt/images/base.qcow2"),
			VMDiskDir:            getEnv("VM_DISK_DIR", "/var/lib/libvirt/images"),
			CallTimeout:          parseDuration("BACKEND_CALL_TIMEOUT", "5m"),
			ImageCatalogPath:     getEnv("IMAGE_CATALOG", ""),
		},
		Storage: StorageConfig{
			ServiceDataRoot: getEnv("SERVICE_DATA_ROOT", "/var/lib/cz7host/services"),
			BackupRoot:      getEnv("BACKUP_ROOT", "/var/lib/cz7host/backups"),
			RestoreMode:     getEnv("RESTORE_MODE", RestoreModeClearFirst),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Storage.RestoreMode {
	case RestoreModeClearFirst, RestoreModeStageFirst:
	default:
		return fmt.Errorf("RESTORE_MODE must be %q or %q, got %q",
			RestoreModeClearFirst, RestoreModeStageFirst, c.Storage.RestoreMode)
	}
	if c.Storage.ServiceDataRoot == c.Storage.BackupRoot {
		return fmt.Errorf("SERVICE_DATA_ROOT and BACKUP_ROOT must differ")
	}
	if c.Server.WriteTimeout <= c.Backends.CallTimeout {
		return fmt.Errorf("SERVER_WRITE_TIMEOUT (%s) must exceed BACKEND_CALL_TIMEOUT (%s)",
			c.Server.WriteTimeout, c.Backends.CallTimeout)
	}
	return nil
}

// RequestTimeout is the per-request handler budget. It outlasts one backend
// call and leaves room to write the response before SERVER_WRITE_TIMEOUT.
func (c *Config) RequestTimeout() time.Duration {
	return c.Backends.CallTimeout + (c.Server.WriteTimeout-c.Backends.CallTimeout)/2
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
