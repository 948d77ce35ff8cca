// Copyright 2025 UMH Systems GmbH
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

package plugin

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadEnvFile loads a dotenv file. Variables already set in the process
// environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}

	return nil
}

// LoadConfigFile reads a YAML mapping of environment variable names to
// values and exports every variable that is not already set. Lists become
// comma separated values.
//
//	HIBP_TOKEN: abc
//	WEBMENTION_TOKENS: [tok1, tok2]
func LoadConfigFile(path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	values, err := parseConfig(raw)
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if _, set := os.LookupEnv(key); set {
			continue
		}

		if err := os.Setenv(key, values[key]); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	return nil
}

func parseConfig(raw []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(doc))

	for key, value := range doc {
		s, err := scalarString(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		out[key] = s
	}

	return out, nil
}

func scalarString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	case []any:
		parts := make([]string, 0, len(v))

		for _, item := range v {
			s, err := scalarString(item)
			if err != nil {
				return "", err
			}

			if _, nested := item.([]any); nested {
				return "", errors.New("nested lists are not supported")
			}

			parts = append(parts, s)
		}

		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", value)
	}
}
