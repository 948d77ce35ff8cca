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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/safejson"
)

// GetJSON sends req as GET and decodes the reply into R.
func GetJSON[R any](ctx context.Context, c *Client, req Request) (*R, error) {
	req.Method = http.MethodGet

	return doJSON[R](ctx, c, req)
}

// PostJSON encodes payload as the JSON body of req and decodes the reply into R.
func PostJSON[R any](ctx context.Context, c *Client, req Request, payload any) (*R, error) {
	body, err := safejson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req.Method = http.MethodPost
	req.Body = body

	if req.ContentType == "" {
		req.ContentType = "application/json"
	}

	return doJSON[R](ctx, c, req)
}

// PostForm sends form url-encoded and decodes the reply into R.
func PostForm[R any](ctx context.Context, c *Client, req Request, form url.Values) (*R, error) {
	req.Method = http.MethodPost
	req.Body = []byte(form.Encode())
	req.ContentType = "application/x-www-form-urlencoded"

	return doJSON[R](ctx, c, req)
}

func doJSON[R any](ctx context.Context, c *Client, req Request) (*R, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var result R
	if err := safejson.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("decoding response of %s: %w", stripQuery(req.URL), err)
	}

	return &result, nil
}

func stripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}

	return raw
}
