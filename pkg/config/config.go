// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the korectl client configuration.
//
// The configuration is a YAML file, by default ~/.korerpc/korectl.yaml:
//
//	host: localhost
//	port: 31337
//	transport: tcp
//	framing: line
//	timeout: 5m
//	reconnect: false
//	bug_report:
//	  dir: ""
//	logging:
//	  level: info
//	  dir: ""
//	  json: false
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/logging"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Default values.
const (
	DefaultHost    = "localhost"
	DefaultPort    = 31337
	DefaultTimeout = 5 * time.Minute
)

// =============================================================================
// Types
// =============================================================================

// ClientConfig describes how korectl reaches a kore-rpc server.
type ClientConfig struct {
	// Host is the server host for the tcp transport.
	Host string `yaml:"host" validate:"required_if=Transport tcp,omitempty,hostname_rfc1123|ip"`

	// Port is the server port for the tcp transport.
	Port int `yaml:"port" validate:"required_if=Transport tcp,omitempty,min=1,max=65535"`

	// Transport is "tcp" or "websocket".
	Transport string `yaml:"transport" validate:"required,oneof=tcp websocket"`

	// URL is the ws:// or wss:// endpoint for the websocket transport.
	URL string `yaml:"url,omitempty" validate:"required_if=Transport websocket,omitempty,url"`

	// Framing is "line" or "header". Ignored for websocket.
	Framing string `yaml:"framing" validate:"omitempty,oneof=line header"`

	// Timeout bounds each request, e.g. "30s". Empty or "0" disables it.
	Timeout string `yaml:"timeout" validate:"omitempty,duration"`

	// Reconnect redials on the next call after a lost connection.
	Reconnect bool `yaml:"reconnect"`

	BugReport BugReportConfig `yaml:"bug_report"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BugReportConfig enables the request/response archive.
type BugReportConfig struct {
	// Dir is the archive database directory. Empty disables recording.
	Dir string `yaml:"dir"`
}

// LoggingConfig configures korectl's logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Host:      DefaultHost,
		Port:      DefaultPort,
		Transport: "tcp",
		Framing:   jsonrpc.FramingLine.String(),
		Timeout:   DefaultTimeout.String(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Validation
// =============================================================================

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("duration", validateDuration)
}

// validateDuration accepts time.ParseDuration strings that are not negative.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate checks every field and reports all failures at once.
func (c ClientConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// =============================================================================
// Accessors
// =============================================================================

// Address returns host:port for the tcp transport.
func (c ClientConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RequestTimeout returns the parsed timeout, 0 when disabled.
func (c ClientConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// FramingMode returns the parsed framing.
func (c ClientConfig) FramingMode() (jsonrpc.Framing, error) {
	return jsonrpc.ParseFraming(c.Framing)
}

// LoggerConfig converts the logging section for service.
func (c ClientConfig) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}, nil
}

// =============================================================================
// Loading
// =============================================================================

// DefaultPath returns ~/.korerpc/korectl.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".korerpc", "korectl.yaml"), nil
}

// Load reads and validates the configuration at path.
//
// Description:
//
//	Fields missing from the file keep their DefaultConfig values.
//
// Inputs:
//
//	path - YAML file to read.
//
// Outputs:
//
//	ClientConfig - The merged configuration.
//	error - Non-nil if the file cannot be read or parsed, or fails
//	validation (wrapping ErrInvalidConfig).
func Load(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// LoadOrCreate loads path, first writing DefaultConfig there if the file
// does not exist. The second result reports whether the file was created.
func LoadOrCreate(path string) (ClientConfig, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, DefaultConfig()); err != nil {
			return ClientConfig{}, false, err
		}
		cfg, err := Load(path)
		return cfg, true, err
	}
	cfg, err := Load(path)
	return cfg, false, err
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
