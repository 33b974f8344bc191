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

package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/carverauto/fleetwatch/pkg/config"
	"github.com/carverauto/fleetwatch/pkg/models"
)

var (
	// ErrTLSNotConfigured is returned when the security mode does not use TLS.
	ErrTLSNotConfigured = errors.New("tls security not configured")
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
	// ErrClientCertRequired is returned when mtls mode lacks a certificate or key file.
	ErrClientCertRequired = errors.New("mtls requires cert_file and key_file")
)

// UsesTLS reports whether sec asks for an encrypted NATS connection.
func UsesTLS(sec *models.SecurityConfig) bool {
	return sec != nil && (sec.Mode == models.SecurityModeTLS || sec.Mode == models.SecurityModeMTLS)
}

// TLSConfig builds the client tls.Config for sec. Mode "tls" verifies the server
// against ca_file (or the system pool when empty); "mtls" additionally presents the
// client certificate.
func TLSConfig(sec *models.SecurityConfig) (*tls.Config, error) {
	if !UsesTLS(sec) {
		return nil, ErrTLSNotConfigured
	}

	paths := sec.TLS
	config.NormalizeTLSPaths(&paths, sec.CertDir)

	conf := &tls.Config{
		ServerName: sec.ServerName,
		MinVersion: tls.VersionTLS13,
	}

	if paths.CAFile != "" {
		pem, err := os.ReadFile(paths.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrCAParsingFailed
		}

		conf.RootCAs = pool
	}

	if sec.Mode != models.SecurityModeMTLS {
		return conf, nil
	}

	if paths.CertFile == "" || paths.KeyFile == "" {
		return nil, ErrClientCertRequired
	}

	cert, err := tls.LoadX509KeyPair(paths.CertFile, paths.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	conf.Certificates = []tls.Certificate{cert}

	return conf, nil
}
