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

package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	utilsenv "github.com/united-manufacturing-hub/umh-utils/env"
)

// GetAsString retrieves an environment variable as a string.
// A required variable that is unset or empty is an error.
// If not required and not set, defaultValue is returned.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, err := utilsenv.GetAsString(key, required, defaultValue)
	if err != nil {
		return "", err
	}

	if value == "" {
		if required {
			return "", fmt.Errorf("required environment variable %s is empty", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetFirst returns the value of the first non-empty variable in keys, or
// defaultValue. It is used where a variable was renamed and the old name is
// still accepted.
func GetFirst(defaultValue string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}

	return defaultValue
}

// GetAsInt retrieves an environment variable as an integer.
// An unset optional variable yields defaultValue; an unparsable value is always an error.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	if os.Getenv(key) == "" {
		if required {
			return 0, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	value, err := utilsenv.GetAsInt(key, required, defaultValue)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}

	return value, nil
}

// GetAsBool retrieves an environment variable as a boolean.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	value, err := GetAsString(key, required, strconv.FormatBool(defaultValue))
	if err != nil {
		return false, err
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("environment variable %s must be a boolean value", key)
	}
}

// GetAsFloat retrieves an environment variable as a float64.
func GetAsFloat(key string, required bool, defaultValue float64) (float64, error) {
	if os.Getenv(key) == "" {
		if required {
			return 0, fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	value, err := utilsenv.GetAsFloat64(key, required, defaultValue)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a number: %w", key, err)
	}

	return value, nil
}

// GetAsDuration retrieves an environment variable as a duration. Plain
// numbers are read in unit, anything else must parse with time.ParseDuration.
func GetAsDuration(key string, required bool, defaultValue time.Duration, unit time.Duration) (time.Duration, error) {
	value, err := GetAsString(key, required, "")
	if err != nil {
		return 0, err
	}

	if value == "" {
		return defaultValue, nil
	}

	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(n * float64(unit)), nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
	}

	return d, nil
}

// GetAsList retrieves an environment variable holding either a JSON array of
// strings or a comma separated list. Blank entries are dropped.
func GetAsList(key string, required bool) ([]string, error) {
	value, err := GetAsString(key, required, "")
	if err != nil {
		return nil, err
	}

	var list []string

	if strings.HasPrefix(strings.TrimSpace(value), "[") {
		if err := utilsenv.GetAsType(key, &list, required, nil); err != nil {
			return nil, err
		}
	} else {
		list = strings.Split(value, ",")
	}

	out := make([]string, 0, len(list))

	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	if required && len(out) == 0 {
		return nil, fmt.Errorf("required environment variable %s is an empty list", key)
	}

	return out, nil
}
