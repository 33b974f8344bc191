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

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/carverauto/fleetwatch/pkg/logger"
)

//nolint:gochecknoglobals // compiled once
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// FileConfigLoader loads configuration from a local JSON file. ${NAME} references are
// replaced with the environment variable NAME before decoding, and unknown keys are
// rejected.
type FileConfigLoader struct {
	logger logger.Logger
}

// Load implements ConfigLoader.
func (f *FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	data, refs := expandEnvRefs(data)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	if f.logger != nil {
		f.logger.Debug().Str("path", path).Strs("env_refs", refs).Msg("Loaded configuration file")
	}

	return nil
}

// expandEnvRefs substitutes ${NAME} references. Values are JSON-escaped since references
// sit inside string literals. It returns the names it replaced.
func expandEnvRefs(data []byte) ([]byte, []string) {
	var refs []string

	out := envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envRefPattern.FindSubmatch(match)[1])
		refs = append(refs, name)

		quoted, _ := json.Marshal(os.Getenv(name))

		return quoted[1 : len(quoted)-1]
	})

	return out, refs
}
