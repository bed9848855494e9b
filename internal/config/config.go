// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package config loads credsvc configuration from defaults, an
// environment-selected YAML file and command-line flags.
package config

import (
	"runtime"
	"time"

	"github.com/samber/oops"

	"github.com/flicker/credsvc/internal/status"
)

// Service names understood by the supervisor and the serve command.
const (
	ServiceVerification   = "verification"
	ServiceEncryption     = "encryption"
	ServiceAuthentication = "authentication"
)

// KnownServices lists every service a worker can host, in start order.
var KnownServices = []string{ServiceVerification, ServiceEncryption, ServiceAuthentication}

// Config is the full credsvc configuration.
type Config struct {
	Redis          RedisConfig          `koanf:"redis"`
	Mail           MailConfig           `koanf:"mail"`
	Verification   VerificationConfig   `koanf:"verification"`
	Encryption     EncryptionConfig     `koanf:"encryption"`
	Authentication AuthenticationConfig `koanf:"authentication"`
	Supervisor     SupervisorConfig     `koanf:"supervisor"`
	Log            LogConfig            `koanf:"log"`
	Metrics        MetricsConfig        `koanf:"metrics"`
}

// RedisConfig configures the verification code cache.
type RedisConfig struct {
	Addr            string        `koanf:"addr"`
	Password        string        `koanf:"password"`
	DB              int           `koanf:"db"`
	MaxRetries      int           `koanf:"max_retries"`
	MinRetryBackoff time.Duration `koanf:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `koanf:"max_retry_backoff"`
	DialTimeout     time.Duration `koanf:"dial_timeout"`
}

// MailConfig configures the SMTP relay used to deliver codes.
type MailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	SSL      bool   `koanf:"ssl"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	Subject  string `koanf:"subject"`
}

// VerificationConfig configures the verification code service.
type VerificationConfig struct {
	Addr      string        `koanf:"addr"`
	KeyPrefix string        `koanf:"key_prefix"`
	TTL       time.Duration `koanf:"ttl"`
}

// EncryptionConfig configures the credential hashing service.
type EncryptionConfig struct {
	Addr    string `koanf:"addr"`
	Cost    int    `koanf:"cost"`
	Workers int    `koanf:"workers"`
}

// AuthenticationConfig configures the credential reset authentication service.
type AuthenticationConfig struct {
	Addr string `koanf:"addr"`
}

// SupervisorConfig configures the process supervisor.
type SupervisorConfig struct {
	Services      []string      `koanf:"services"`
	MaxRestarts   int           `koanf:"max_restarts"`
	BaseBackoff   time.Duration `koanf:"base_backoff"`
	MaxBackoff    time.Duration `koanf:"max_backoff"`
	StableAfter   time.Duration `koanf:"stable_after"`
	ShutdownGrace time.Duration `koanf:"shutdown_grace"`
}

// LogConfig configures log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	// Dir holds per-service log files when the supervisor launches workers.
	// Empty means workers inherit the supervisor's stdout.
	Dir string `koanf:"dir"`
}

// MetricsConfig configures the observability HTTP server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:            "127.0.0.1:6379",
			MaxRetries:      5,
			MinRetryBackoff: 50 * time.Millisecond,
			MaxRetryBackoff: 10 * time.Second,
			DialTimeout:     5 * time.Second,
		},
		Mail: MailConfig{
			Port:    465,
			SSL:     true,
			Subject: "Flicker verification code",
		},
		Verification: VerificationConfig{
			Addr:      "127.0.0.1:50051",
			KeyPrefix: "verification_code_",
			TTL:       300 * time.Second,
		},
		Encryption: EncryptionConfig{
			Addr:    "127.0.0.1:50052",
			Cost:    10,
			Workers: runtime.GOMAXPROCS(0),
		},
		Authentication: AuthenticationConfig{
			Addr: "127.0.0.1:50053",
		},
		Supervisor: SupervisorConfig{
			Services:      append([]string(nil), KnownServices...),
			MaxRestarts:   5,
			BaseBackoff:   500 * time.Millisecond,
			MaxBackoff:    30 * time.Second,
			StableAfter:   time.Minute,
			ShutdownGrace: 10 * time.Second,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Addr returns the listen address configured for a service.
func (c *Config) Addr(service string) (string, error) {
	switch service {
	case ServiceVerification:
		return c.Verification.Addr, nil
	case ServiceEncryption:
		return c.Encryption.Addr, nil
	case ServiceAuthentication:
		return c.Authentication.Addr, nil
	default:
		return "", invalid("service", service, "unknown service")
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return invalid("redis.addr", c.Redis.Addr, "must not be empty")
	}
	if c.Redis.MaxRetries < 0 {
		return invalid("redis.max_retries", c.Redis.MaxRetries, "must not be negative")
	}
	if c.Mail.Port < 0 || c.Mail.Port > 65535 {
		return invalid("mail.port", c.Mail.Port, "must be a valid port")
	}
	if c.Verification.Addr == "" {
		return invalid("verification.addr", c.Verification.Addr, "must not be empty")
	}
	if c.Verification.KeyPrefix == "" {
		return invalid("verification.key_prefix", c.Verification.KeyPrefix, "must not be empty")
	}
	if c.Verification.TTL <= 0 {
		return invalid("verification.ttl", c.Verification.TTL, "must be positive")
	}
	if c.Encryption.Addr == "" {
		return invalid("encryption.addr", c.Encryption.Addr, "must not be empty")
	}
	if c.Encryption.Cost < 4 || c.Encryption.Cost > 31 {
		return invalid("encryption.cost", c.Encryption.Cost, "must be between 4 and 31")
	}
	if c.Encryption.Workers < 1 {
		return invalid("encryption.workers", c.Encryption.Workers, "must be at least 1")
	}
	if c.Authentication.Addr == "" {
		return invalid("authentication.addr", c.Authentication.Addr, "must not be empty")
	}
	if len(c.Supervisor.Services) == 0 {
		return invalid("supervisor.services", c.Supervisor.Services, "must name at least one service")
	}
	for _, name := range c.Supervisor.Services {
		if !isKnownService(name) {
			return invalid("supervisor.services", name, "unknown service")
		}
	}
	if c.Supervisor.MaxRestarts < 0 {
		return invalid("supervisor.max_restarts", c.Supervisor.MaxRestarts, "must not be negative")
	}
	if c.Supervisor.BaseBackoff <= 0 {
		return invalid("supervisor.base_backoff", c.Supervisor.BaseBackoff, "must be positive")
	}
	if c.Supervisor.MaxBackoff < c.Supervisor.BaseBackoff {
		return invalid("supervisor.max_backoff", c.Supervisor.MaxBackoff, "must not be less than base_backoff")
	}
	if c.Supervisor.ShutdownGrace <= 0 {
		return invalid("supervisor.shutdown_grace", c.Supervisor.ShutdownGrace, "must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	return nil
}

func isKnownService(name string) bool {
	for _, s := range KnownServices {
		if s == name {
			return true
		}
	}
	return false
}

func invalid(field string, value any, reason string) error {
	return oops.Code(status.ErrCodeConfigInvalid).
		With("field", field).
		With("value", value).
		Errorf("invalid %s: %s", field, reason)
}
