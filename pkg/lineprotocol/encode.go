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

package lineprotocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"

	lp "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/zeebo/xxh3"
)

var (
	ErrNoMeasurement = errors.New("point has no measurement")
	ErrNoFields      = errors.New("point has no fields")
)

// Encode renders points as newline terminated lines. Points that cannot be
// represented are left out and reported in the joined error, the rest are
// still returned.
func Encode(points []Point) ([]byte, error) {
	var (
		out  []byte
		errs []error
	)

	for i, p := range points {
		line, err := EncodePoint(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("point %d (%s): %w", i, p.Measurement, err))

			continue
		}

		out = append(out, line...)
		out = append(out, '\n')
	}

	return out, errors.Join(errs...)
}

// EncodePoint renders a single point without the trailing newline.
func EncodePoint(p Point) ([]byte, error) {
	if p.Measurement == "" {
		return nil, ErrNoMeasurement
	}

	values := make(map[string]lp.Value, len(p.Fields))

	for key, raw := range p.Fields {
		v, err := toValue(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}

		values[key] = v
	}

	if len(values) == 0 {
		return nil, ErrNoFields
	}

	var enc lp.Encoder

	enc.SetPrecision(lp.Nanosecond)
	enc.StartLine(p.Measurement)

	// the encoder rejects tags that are not in lexical order
	for _, key := range sortedKeys(p.Tags) {
		if p.Tags[key] == "" {
			continue
		}

		enc.AddTag(key, p.Tags[key])
	}

	for _, key := range sortedKeys(values) {
		enc.AddField(key, values[key])
	}

	enc.EndLine(p.Time)

	if err := enc.Err(); err != nil {
		return nil, err
	}

	return bytes.TrimRight(enc.Bytes(), "\n"), nil
}

// Dedupe removes byte-identical lines from an encoded batch, keeping the
// first occurrence.
func Dedupe(batch []byte) []byte {
	seen := make(map[uint64]struct{})
	out := make([]byte, 0, len(batch))

	for _, line := range bytes.Split(batch, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}

		h := xxh3.Hash(line)
		if _, ok := seen[h]; ok {
			continue
		}

		seen[h] = struct{}{}
		out = append(out, line...)
		out = append(out, '\n')
	}

	return out
}

func toValue(raw any) (lp.Value, error) {
	switch v := raw.(type) {
	case int:
		return lp.IntValue(int64(v)), nil
	case int8:
		return lp.IntValue(int64(v)), nil
	case int16:
		return lp.IntValue(int64(v)), nil
	case int32:
		return lp.IntValue(int64(v)), nil
	case int64:
		return lp.IntValue(v), nil
	case uint:
		return uintValue(uint64(v))
	case uint8:
		return lp.IntValue(int64(v)), nil
	case uint16:
		return lp.IntValue(int64(v)), nil
	case uint32:
		return lp.IntValue(int64(v)), nil
	case uint64:
		return uintValue(v)
	case float32:
		return floatValue(float64(v))
	case float64:
		return floatValue(v)
	case bool:
		return lp.BoolValue(v), nil
	case string:
		sv, ok := lp.StringValue(v)
		if !ok {
			return lp.Value{}, errors.New("string is not valid UTF-8")
		}

		return sv, nil
	default:
		return lp.Value{}, fmt.Errorf("unsupported field type %T", raw)
	}
}

// uintValue keeps integers signed so databases without unsigned support
// accept them.
func uintValue(v uint64) (lp.Value, error) {
	if v > math.MaxInt64 {
		return lp.Value{}, fmt.Errorf("unsigned value %d overflows int64", v)
	}

	return lp.IntValue(int64(v)), nil
}

func floatValue(v float64) (lp.Value, error) {
	fv, ok := lp.FloatValue(v)
	if !ok {
		return lp.Value{}, fmt.Errorf("float %v cannot be represented", v)
	}

	return fv, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
