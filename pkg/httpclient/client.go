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

// Package httpclient is the HTTP layer shared by all plugins: one client per
// run with retries, an optional rate limiter and request metrics.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
)

const (
	// DefaultTimeout bounds a single attempt, retries get their own.
	DefaultTimeout = 30 * time.Second
	// maxBodySize guards against a misbehaving server streaming forever.
	maxBodySize = 32 << 20
)

// Limiter delays a request until it may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Observer is told about every finished attempt. Code is 0 when no response
// was received.
type Observer interface {
	ObserveRequest(host string, code int, duration time.Duration)
}

// Request describes one API call.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
	// BasicAuth is set as user and password when non-nil.
	BasicAuth *BasicAuth
}

// BasicAuth credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Response is a successful (2xx) reply with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client executes Requests.
type Client struct {
	http      *http.Client
	userAgent string
	policy    backoff.Policy
	limiter   Limiter
	observer  Observer
	sign      func(req *http.Request, body []byte) error
	log       *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetryPolicy overrides backoff.DefaultPolicy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLimiter makes every attempt wait on l first.
func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithObserver reports every attempt to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithInsecureTLS disables certificate verification, for consoles with
// self-signed certificates.
func WithInsecureTLS(insecure bool) Option {
	return func(c *Client) {
		if !insecure {
			return
		}

		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if base, ok := http.DefaultTransport.(*http.Transport); ok {
			transport = base.Clone()
		}

		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via HTTP_INSECURE_TLS
		c.http.Transport = transport
	}
}

// WithLogger sets the logger used for retry notices.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a client using http.DefaultTransport unless configured otherwise.
func New(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: DefaultTimeout},
		policy: backoff.DefaultPolicy,
		log:    zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// HTTPClient exposes the underlying client, e.g. for gock.InterceptClient or
// libraries that take an *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// WithSigner returns a copy of c that calls sign on every outgoing request
// after all headers are set. Used for APIs that authenticate by signature.
func (c *Client) WithSigner(sign func(req *http.Request, body []byte) error) *Client {
	cp := *c
	cp.sign = sign

	return &cp
}

// WithRetryPolicy returns a copy of c using p.
func (c *Client) WithRetryPolicy(p backoff.Policy) *Client {
	cp := *c
	cp.policy = p

	return &cp
}

// WithLimiter returns a copy of c that waits on l before every attempt.
func (c *Client) WithLimiter(l Limiter) *Client {
	cp := *c
	cp.limiter = l

	return &cp
}

// Do sends req, retrying transient failures, and returns the body of a 2xx
// reply. Any other status is returned as *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var resp *Response

	err := backoff.Retry(ctx, c.policy, func() error {
		var err error

		resp, err = c.attempt(ctx, req)

		return err
	}, func(err error, next time.Duration) {
		c.log.Infof("Retrying %s %s in %s: %s", methodOf(req), req.URL, next, err)
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.NewPermanentError(err)
		}
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, backoff.NewPermanentError(err)
	}

	start := time.Now()

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(httpReq.URL.Host, 0, time.Since(start))

		if ctx.Err() != nil {
			return nil, backoff.NewPermanentError(ctx.Err())
		}

		return nil, backoff.NewTransientError(enhanceConnectionError(err))
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	c.observe(httpReq.URL.Host, httpResp.StatusCode, time.Since(start))

	if err != nil {
		return nil, backoff.NewTransientError(fmt.Errorf("reading response body: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, categorize(newStatusError(httpReq, httpResp, body))
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", req.URL, err)
	}

	if len(req.Query) > 0 {
		q := u.Query()

		for k, values := range req.Query {
			for _, v := range values {
				q.Add(k, v)
			}
		}

		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, methodOf(req), u.String(), body)
	if err != nil {
		return nil, err
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	if c.sign != nil {
		if err := c.sign(httpReq, req.Body); err != nil {
			return nil, fmt.Errorf("signing request: %w", err)
		}
	}

	return httpReq, nil
}

func (c *Client) observe(host string, code int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(host, code, d)
	}
}

func methodOf(req Request) string {
	if req.Method == "" {
		return http.MethodGet
	}

	return req.Method
}

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError

	return errors.As(err, &se) && se.Code == code
}
