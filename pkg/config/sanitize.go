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
	"encoding/json"
	"reflect"
)

const redacted = "[redacted]"

// SanitizeForLog renders cfg as JSON with every non-empty field tagged
// sensitive:"true" replaced by a placeholder.
func SanitizeForLog(cfg interface{}) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return data, nil
	}

	redact(reflect.TypeOf(cfg), doc)

	return json.Marshal(doc)
}

func redact(t reflect.Type, doc map[string]interface{}) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name := jsonName(&f)

		value, ok := doc[name]
		if !ok {
			continue
		}

		if f.Tag.Get("sensitive") == "true" {
			if s, isString := value.(string); !isString || s != "" {
				doc[name] = redacted
			}

			continue
		}

		if nested, isMap := value.(map[string]interface{}); isMap {
			redact(f.Type, nested)
		}
	}
}
