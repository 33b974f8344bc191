/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads service configuration from a JSON file or from environment
// variables and validates it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errInvalidConfigPtr    = errors.New("config must be a non-nil pointer")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	// DefaultEnvPrefix prefixes every variable read by the environment loader.
	DefaultEnvPrefix = "FLEETWATCH_"
)

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a new Config instance with a default file loader and logger.
// If logger is nil, a warn-level stderr logger is used.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = createBasicLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{logger: log},
		logger:        log,
	}
}

// createBasicLogger creates a minimal logger for config loading, before the
// configured logger exists.
func createBasicLogger() logger.Logger {
	zlog := zerolog.New(os.Stderr).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	return logger.FromZerolog(zlog)
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration, normalizes SecurityConfig paths if present, and validates it.
// CONFIG_SOURCE selects the source: "file" (default) reads path, "env" reads variables
// prefixed with CONFIG_ENV_PREFIX (default FLEETWATCH_).
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := c.load(ctx, path, cfg); err != nil {
		return err
	}

	if err := c.normalizeSecurityConfig(cfg); err != nil {
		return fmt.Errorf("failed to normalize SecurityConfig: %w", err)
	}

	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	return nil
}

func (c *Config) load(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = DefaultEnvPrefix
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		loader = c.defaultLoader
	default:
		return fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	return loader.Load(ctx, path, cfg)
}

// normalizeSecurityConfig normalizes TLS paths in any struct containing a SecurityConfig field.
func (c *Config) normalizeSecurityConfig(cfg interface{}) error {
	v := reflect.ValueOf(cfg)

	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	v = v.Elem()

	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	secType := reflect.TypeOf((*models.SecurityConfig)(nil))

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if t.Field(i).Type != secType || field.IsNil() {
			continue
		}

		sec := field.Interface().(*models.SecurityConfig)
		c.normalizeTLSPaths(&sec.TLS, sec.CertDir)
	}

	return nil
}

// normalizeTLSPaths resolves relative TLS file paths against the certificate directory.
func (c *Config) normalizeTLSPaths(tls *models.TLSConfig, certDir string) {
	if certDir == "" {
		return
	}

	for _, p := range []*string{&tls.CertFile, &tls.KeyFile, &tls.CAFile} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(certDir, *p)
		}
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("cert_file", tls.CertFile).
			Str("key_file", tls.KeyFile).
			Str("ca_file", tls.CAFile).
			Msg("Normalized TLS paths")
	}
}

// NormalizeTLSPaths resolves relative TLS file paths against certDir.
func NormalizeTLSPaths(tls *models.TLSConfig, certDir string) {
	cfg := &Config{logger: createBasicLogger()}
	cfg.normalizeTLSPaths(tls, certDir)
}
