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

package backoff

import "errors"

// Category tells Retry whether a failed call is worth another attempt.
type Category int

const (
	// Transient failures may succeed later: timeouts, connection resets,
	// 429 and 5xx replies. Uncategorized errors are treated as transient.
	Transient Category = iota
	// Permanent failures stop the retry loop: bad credentials, 4xx replies,
	// a cancelled run.
	Permanent
)

func (c Category) String() string {
	if c == Permanent {
		return "permanent"
	}

	return "transient"
}

type categorized struct {
	err      error
	category Category
}

func (e *categorized) Error() string { return e.err.Error() }

func (e *categorized) Unwrap() error { return e.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	return &categorized{err: err, category: Transient}
}

// NewPermanentError marks err as final.
func NewPermanentError(err error) error {
	return &categorized{err: err, category: Permanent}
}

// CategoryOf returns the category of the outermost categorized error in the
// chain of err, Transient if there is none.
func CategoryOf(err error) Category {
	var c *categorized
	if errors.As(err, &c) {
		return c.category
	}

	return Transient
}

// CategorizeError marks an uncategorized err as transient and leaves
// categorized ones alone.
func CategorizeError(err error) error {
	var c *categorized
	if err == nil || errors.As(err, &c) {
		return err
	}

	return NewTransientError(err)
}

// IsTransientError reports whether err carries the Transient category.
func IsTransientError(err error) bool {
	var c *categorized

	return errors.As(err, &c) && c.category == Transient
}

// IsPermanentError reports whether err carries the Permanent category.
func IsPermanentError(err error) bool {
	return err != nil && CategoryOf(err) == Permanent
}
