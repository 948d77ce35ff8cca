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

// Package safejson decodes API responses with goccy/go-json and falls back to
// encoding/json if goccy panics on an unusual payload.
package safejson

import (
	"bytes"
	jsonstd "encoding/json"
	"errors"
	"reflect"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrEmptyBody is returned for payloads that contain only whitespace. Some
// APIs answer 200 with no body when a token lacks permissions.
var ErrEmptyBody = errors.New("empty response body")

// Unmarshal decodes payload into target, which must be a non-nil pointer.
// target is only modified when decoding succeeds.
func Unmarshal(payload []byte, target any) (err error) {
	ptr := reflect.ValueOf(target)
	if !ptr.IsValid() || ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptyBody
	}

	tmp := reflect.New(ptr.Elem().Type())

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		zap.S().Warnf("goccy panicked decoding %d bytes, retrying with encoding/json: %v", len(payload), r)

		tmp = reflect.New(ptr.Elem().Type())
		if err = jsonstd.Unmarshal(payload, tmp.Interface()); err == nil {
			ptr.Elem().Set(tmp.Elem())
		}
	}()

	if err = json.Unmarshal(payload, tmp.Interface()); err != nil {
		return err
	}

	ptr.Elem().Set(tmp.Elem())

	return nil
}

// Marshal encodes v, falling back to encoding/json if goccy panics.
func Marshal(v any) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Warnf("goccy panicked encoding %T, retrying with encoding/json: %v", v, r)

			out, err = jsonstd.Marshal(v)
		}
	}()

	return json.Marshal(v)
}
