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

import (
	"context"
	"errors"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used by the HTTP client unless a plugin overrides it.
var DefaultPolicy = Policy{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// NoRetry runs the operation exactly once.
var NoRetry = Policy{}

// RetryAfterer is implemented by errors that know when the server wants to
// be asked again.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Notify is called before each retry with the error and the upcoming delay.
type Notify func(err error, next time.Duration)

// Retry runs op until it succeeds, returns a non-transient error, the
// policy is exhausted or ctx is done. Uncategorized errors count as transient.
func Retry(ctx context.Context, policy Policy, op func() error, notify Notify) error {
	exp := cbackoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		exp.InitialInterval = policy.InitialInterval
	}

	if policy.MaxInterval > 0 {
		exp.MaxInterval = policy.MaxInterval
	}

	exp.MaxElapsedTime = 0

	hinted := &hintedBackOff{
		BackOff:  cbackoff.WithMaxRetries(exp, policy.MaxRetries),
		maxDelay: exp.MaxInterval,
	}

	operation := func() error {
		err := op()
		if err == nil {
			return nil
		}

		if IsPermanentError(err) {
			return cbackoff.Permanent(err)
		}

		var ra RetryAfterer
		if errors.As(err, &ra) {
			hinted.hint = ra.RetryAfter()
		}

		return err
	}

	var cbNotify cbackoff.Notify
	if notify != nil {
		cbNotify = cbackoff.Notify(notify)
	}

	return cbackoff.RetryNotify(operation, cbackoff.WithContext(hinted, ctx), cbNotify)
}

// hintedBackOff stretches the next delay to a server supplied hint, capped
// at maxDelay.
type hintedBackOff struct {
	cbackoff.BackOff

	hint     time.Duration
	maxDelay time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.BackOff.NextBackOff()
	if next == cbackoff.Stop {
		return next
	}

	if h.hint > next {
		next = min(h.hint, h.maxDelay)
	}

	h.hint = 0

	return next
}
