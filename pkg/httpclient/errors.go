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

package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
)

// maxErrorBody is how much of an error body ends up in the message.
const maxErrorBody = 512

// StatusError is returned for any non-2xx reply.
type StatusError struct {
	Method     string
	URL        string
	Code       int
	Status     string
	Body       []byte
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: error response code: %s", e.Method, e.URL, e.Status)

	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		msg += " (check the configured credentials)"
	case http.StatusTooManyRequests:
		msg += " (rate limited, the plugin is probably scheduled too often)"
	}

	if body := strings.TrimSpace(string(e.Body)); body != "" {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody] + "..."
		}

		msg += ": " + body
	}

	return msg
}

// RetryAfter is the delay requested by a Retry-After header, or 0.
func (e *StatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

func newStatusError(req *http.Request, resp *http.Response, body []byte) *StatusError {
	// keep credentials passed as query parameters out of logs
	u := *req.URL
	u.RawQuery = ""

	return &StatusError{
		Method:     req.Method,
		URL:        u.String(),
		Code:       resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// categorize marks 429 and 5xx as transient, everything else as permanent.
func categorize(err *StatusError) error {
	if err.Code == http.StatusTooManyRequests || err.Code >= 500 {
		return backoff.NewTransientError(err)
	}

	return backoff.NewPermanentError(err)
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}

	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}

	return 0
}

// enhanceConnectionError adds context to common connection errors.
func enhanceConnectionError(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "EOF"):
		return fmt.Errorf("connection closed unexpectedly before receiving response: %w", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("request timed out: %w", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("connection refused (is the service running and the URL correct?): %w", err)
	default:
		return fmt.Errorf("connection error: %w", err)
	}
}
