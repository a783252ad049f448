// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the konnektor client configuration from YAML,
// applies KONNEKTOR_* environment overrides and maps the result onto the
// configuration types of the individual packages.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration.
type Config struct {
	Connector  ConnectorConfig  `yaml:"connector"`
	Context    ContextConfig    `yaml:"context"`
	Sign       SignConfig       `yaml:"sign"`
	CertReader CertReaderConfig `yaml:"cert_reader"`
	RemotePin  bool             `yaml:"remote_pin"`
	IDP        IDPConfig        `yaml:"idp"`
	UserID     UserIDConfig     `yaml:"userid"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`

	// Warnings collects ignored environment overrides; they are logged once
	// a logger exists.
	Warnings []string `yaml:"-"`
}

// ConnectorConfig locates the connector and configures the HTTP transport.
type ConnectorConfig struct {
	Host    string `yaml:"hostname"`
	Port    int    `yaml:"port"`
	SDSPath string `yaml:"sds_path"`

	// Auth is one of server, basic, client_cert or client_pkcs12.
	Auth     string `yaml:"auth_type"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	KeyPassword string `yaml:"key_password"`

	PKCS12File     string `yaml:"pkcs12_file"`
	PKCS12Password string `yaml:"pkcs12_password"`

	CAFile             string `yaml:"ca_file"`
	RejectUnauthorized bool   `yaml:"reject_unauthorized"`
	ProxyURL           string `yaml:"proxy_url"`
	NoProxy            bool   `yaml:"no_proxy"`

	Timeout          time.Duration `yaml:"timeout"`
	VerifyPinTimeout time.Duration `yaml:"verify_pin_timeout"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ContextConfig is the connector call context.
type ContextConfig struct {
	MandantID      string `yaml:"mandant_id"`
	ClientSystemID string `yaml:"client_system_id"`
	WorkplaceID    string `yaml:"workplace_id"`
}

// SignConfig selects the signature type tried first.
type SignConfig struct {
	// Type is ECC or RSA.
	Type string `yaml:"type"`
}

// CertReaderConfig selects the certificate read from the card.
type CertReaderConfig struct {
	CertRef string `yaml:"cert_ref"`
}

// IDPConfig configures the identity provider client.
type IDPConfig struct {
	BaseURL       string `yaml:"base_url"`
	ChallengePath string `yaml:"challenge_path"`
	UserAgent     string `yaml:"user_agent"`

	// Reachability maps display names to IDP base URLs checked by the function tests.
	Reachability map[string]string `yaml:"reachability"`
}

// UserIDConfig configures the user id store. An empty StorePath keeps ids
// in memory only.
type UserIDConfig struct {
	StorePath string `yaml:"store_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig configures the local API.
type APIConfig struct {
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	QueueSize int             `yaml:"queue_size"`
	TLS       TLSConfig       `yaml:"tls"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RateLimitConfig controls rate limiting of the local API.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used for missing values.
func Default() *Config {
	return &Config{
		Connector: ConnectorConfig{
			SDSPath:            "/connector.sds",
			Auth:               "server",
			RejectUnauthorized: true,
			Timeout:            30 * time.Second,
			VerifyPinTimeout:   60 * time.Second,
		},
		Sign:       SignConfig{Type: "ECC"},
		CertReader: CertReaderConfig{CertRef: "C.AUT"},
		IDP:        IDPConfig{UserAgent: "go-konnektor"},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		API: APIConfig{
			Host:      "127.0.0.1",
			Port:      39339,
			QueueSize: 16,
			RateLimit: RateLimitConfig{Enabled: true, RequestsPerMin: 120, Burst: 20},
			Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	// #nosec G304 - config file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return errcodes.Wrap(err, errcodes.ConfigReadFailed).AppendMessage(path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errcodes.Wrap(err, errcodes.ConfigReadFailed).AppendMessage("parse " + path)
	}
	return nil
}

// Save writes c to path with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return saveError(err, path)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return saveError(err, path)
	}
	return nil
}

func saveError(err error, path string) error {
	if errors.Is(err, os.ErrPermission) {
		return errcodes.Wrap(err, errcodes.ConfigSavePermission).AppendMessage(path)
	}
	return fmt.Errorf("config: save %s: %w", path, err)
}

// applyEnvOverrides applies KONNEKTOR_* environment variables.
func applyEnvOverrides(c *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	port := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("invalid %s value %q, using %d", name, v, *dst))
			return
		}
		*dst = p
	}
	boolean := func(name string, dst *bool) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.Warnings = append(c.Warnings,
				fmt.Sprintf("invalid %s value %q, using %t", name, v, *dst))
			return
		}
		*dst = b
	}

	str("KONNEKTOR_HOST", &c.Connector.Host)
	port("KONNEKTOR_PORT", &c.Connector.Port)
	str("KONNEKTOR_SDS_PATH", &c.Connector.SDSPath)
	str("KONNEKTOR_AUTH_TYPE", &c.Connector.Auth)
	str("KONNEKTOR_USERNAME", &c.Connector.Username)
	str("KONNEKTOR_PASSWORD", &c.Connector.Password)
	str("KONNEKTOR_KEY_PASSWORD", &c.Connector.KeyPassword)
	str("KONNEKTOR_PKCS12_PASSWORD", &c.Connector.PKCS12Password)
	boolean("KONNEKTOR_REJECT_UNAUTHORIZED", &c.Connector.RejectUnauthorized)

	str("KONNEKTOR_MANDANT_ID", &c.Context.MandantID)
	str("KONNEKTOR_CLIENT_SYSTEM_ID", &c.Context.ClientSystemID)
	str("KONNEKTOR_WORKPLACE_ID", &c.Context.WorkplaceID)

	boolean("KONNEKTOR_REMOTE_PIN", &c.RemotePin)
	str("KONNEKTOR_IDP_URL", &c.IDP.BaseURL)
	str("KONNEKTOR_USERID_STORE", &c.UserID.StorePath)

	str("KONNEKTOR_LOG_LEVEL", &c.Logging.Level)
	str("KONNEKTOR_LOG_FORMAT", &c.Logging.Format)

	port("KONNEKTOR_API_PORT", &c.API.Port)
	str("KONNEKTOR_API_KEY", &c.API.Auth.APIKey)
}

// Validate checks the configuration for values that would only fail later
// at the connector.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errcodes.New(errcodes.ConfigReadFailed).AppendMessage(fmt.Sprintf(format, args...))
	}

	if c.Connector.Host == "" {
		return invalid("connector hostname is required")
	}
	if c.Connector.Port < 0 || c.Connector.Port > 65535 {
		return invalid("invalid connector port: %d", c.Connector.Port)
	}
	switch c.Connector.Auth {
	case "server", "":
	case "basic":
		if c.Connector.Username == "" {
			return invalid("basic auth requires a username")
		}
	case "client_cert":
		if c.Connector.CertFile == "" || c.Connector.KeyFile == "" {
			return invalid("client_cert auth requires cert_file and key_file")
		}
	case "client_pkcs12":
		if c.Connector.PKCS12File == "" {
			return invalid("client_pkcs12 auth requires pkcs12_file")
		}
	default:
		return invalid("unknown connector auth_type %q", c.Connector.Auth)
	}

	if c.Context.MandantID == "" || c.Context.ClientSystemID == "" || c.Context.WorkplaceID == "" {
		return invalid("context requires mandant_id, client_system_id and workplace_id")
	}

	switch strings.ToUpper(c.Sign.Type) {
	case "ECC", "RSA":
	default:
		return invalid("invalid sign type %q (must be ECC or RSA)", c.Sign.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return invalid("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return invalid("invalid API port: %d", c.API.Port)
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		return invalid("API TLS requires cert_file and key_file")
	}
	return nil
}
