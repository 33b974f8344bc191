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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

const configJSONVar = "CONFIG_JSON"

//nolint:gochecknoglobals // reflect types used for field classification
var (
	durationTypes = map[reflect.Type]bool{
		reflect.TypeOf(time.Duration(0)):   true,
		reflect.TypeOf(models.Duration(0)): true,
	}
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

// EnvConfigLoader fills a configuration struct from environment variables. A field's
// variable is the prefix plus its upper-cased json tag path joined by underscores, so
// FLEETWATCH_POLLING_INTERVAL sets Polling.Interval. A complete JSON document in
// <prefix>CONFIG_JSON wins over individual variables.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates a loader reading variables that start with prefix.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if log == nil {
		log = createBasicLogger()
	}

	return &EnvConfigLoader{logger: log, prefix: prefix}
}

// Load implements ConfigLoader. Every malformed variable is reported, not only the first.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	docVar := e.prefix + configJSONVar

	if doc := os.Getenv(docVar); doc != "" {
		if err := json.Unmarshal([]byte(doc), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", docVar, err)
		}

		e.logger.Info().Str("env", docVar).Msg("Loaded configuration document from environment")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	var applied []string

	if err := e.fill(v.Elem(), e.prefix, &applied); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e.logger.Info().Strs("variables", applied).Msg("Loaded configuration from environment variables")

	return nil
}

func (e *EnvConfigLoader) fill(v reflect.Value, prefix string, applied *[]string) error {
	var errs error

	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if !sf.IsExported() || name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))

		if err := e.fillField(v.Field(i), envName, applied); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	return errs
}

func (e *EnvConfigLoader) fillField(field reflect.Value, envName string, applied *[]string) error {
	if isSection(field.Type()) {
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				// nil sections stay nil unless one of their variables is present
				if !envHasPrefix(envName + "_") {
					return nil
				}

				field.Set(reflect.New(field.Type().Elem()))
			}

			field = field.Elem()
		}

		return e.fill(field, envName+"_", applied)
	}

	raw := os.Getenv(envName)
	if raw == "" {
		return nil
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		field = field.Elem()
	}

	if err := setValue(field, raw); err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}

	*applied = append(*applied, envName)

	return nil
}

// isSection reports whether t is a nested block of settings rather than a single value.
func isSection(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Kind() == reflect.Struct && !reflect.PointerTo(t).Implements(jsonUnmarshalerType)
}

func envHasPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}

// setValue parses raw into field. Durations use time.ParseDuration syntax, string
// slices are comma separated, maps and other composites are JSON.
func setValue(field reflect.Value, raw string) error {
	if durationTypes[field.Type()] {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}

		field.SetInt(int64(d))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", raw, err)
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", raw, err)
		}

		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q: %w", raw, err)
		}

		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", raw, err)
		}

		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String && !strings.HasPrefix(strings.TrimSpace(raw), "[") {
			field.Set(splitList(field.Type(), raw))
			return nil
		}

		return unmarshalInto(field, raw)
	default:
		return unmarshalInto(field, raw)
	}

	return nil
}

func splitList(t reflect.Type, raw string) reflect.Value {
	parts := strings.Split(raw, ",")
	out := reflect.MakeSlice(t, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = reflect.Append(out, reflect.ValueOf(p).Convert(t.Elem()))
		}
	}

	return out
}

func unmarshalInto(field reflect.Value, raw string) error {
	if err := json.Unmarshal([]byte(raw), field.Addr().Interface()); err != nil {
		return fmt.Errorf("invalid %s value: %w", field.Kind(), err)
	}

	return nil
}
