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

// Package ratelimit provides a fixed window request limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedWindow admits at most Limit calls per Window. A window opens with the
// first call admitted after the previous one expired; callers arriving when
// the window is full sleep until it rolls over.
type FixedWindow struct {
	limit  int
	window time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces the clock and sleep function, used by tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *FixedWindow) {
		f.now = now
		f.sleep = sleep
	}
}

// NewFixedWindow returns a limiter admitting limit calls per window.
// A limit below 1 is treated as 1.
func NewFixedWindow(limit int, window time.Duration, opts ...Option) *FixedWindow {
	if limit < 1 {
		limit = 1
	}

	f := &FixedWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Wait blocks until the call is admitted or ctx is done.
func (f *FixedWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := f.reserve()
		if ok {
			return nil
		}

		if err := f.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve admits the call if the current window has room, otherwise it
// returns how long until the window ends.
func (f *FixedWindow) reserve() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	if f.windowStart.IsZero() || !now.Before(f.windowStart.Add(f.window)) {
		f.windowStart = now
		f.count = 0
	}

	if f.count < f.limit {
		f.count++

		return 0, true
	}

	return f.windowStart.Add(f.window).Sub(now), false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
