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

package output

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
)

// InfluxDBConfig addresses the v2 write API. InfluxDB 1.8+ serves the same
// endpoint and takes "user:password" as the token with Version "1".
type InfluxDBConfig struct {
	URL     string
	Token   string
	Version string
	Bucket  string
	Org     string
	Gzip    bool
}

// InfluxDBConfigFromEnv reads INFLUXDB_* variables. INFLUXDB_USER is the old
// name of INFLUXDB_VERSION.
func InfluxDBConfigFromEnv() (InfluxDBConfig, error) {
	cfg := InfluxDBConfig{
		URL:     env.GetFirst("http://127.0.0.1:8086", "INFLUXDB_URL"),
		Token:   env.GetFirst("", "INFLUXDB_TOKEN"),
		Version: env.GetFirst("2", "INFLUXDB_VERSION", "INFLUXDB_USER"),
		Bucket:  env.GetFirst("telegraf", "INFLUXDB_BUCKET"),
		Org:     env.GetFirst("", "INFLUXDB_ORG"),
	}

	gz, err := env.GetAsBool("INFLUXDB_GZIP", false, false)
	if err != nil {
		return cfg, err
	}

	cfg.Gzip = gz

	if cfg.Version != "1" && cfg.Version != "2" {
		return cfg, fmt.Errorf("INFLUXDB_VERSION must be 1 or 2, got %q", cfg.Version)
	}

	return cfg, nil
}

// InfluxDBSink posts batches to /api/v2/write.
type InfluxDBSink struct {
	cfg    InfluxDBConfig
	client *httpclient.Client
}

// NewInfluxDBSink returns a sink using client for the writes.
func NewInfluxDBSink(cfg InfluxDBConfig, client *httpclient.Client) *InfluxDBSink {
	return &InfluxDBSink{cfg: cfg, client: client}
}

func (s *InfluxDBSink) Write(ctx context.Context, batch []byte) error {
	if len(batch) == 0 {
		return nil
	}

	req := httpclient.Request{
		Method:      http.MethodPost,
		URL:         strings.TrimRight(s.cfg.URL, "/") + "/api/v2/write",
		Query:       url.Values{"bucket": {s.cfg.Bucket}, "precision": {"ns"}},
		Header:      http.Header{},
		Body:        batch,
		ContentType: "text/plain; charset=utf-8",
	}

	if s.cfg.Org != "" {
		req.Query.Set("org", s.cfg.Org)
	}

	if s.cfg.Token != "" {
		if s.cfg.Version == "1" {
			user, pass, _ := strings.Cut(s.cfg.Token, ":")
			req.BasicAuth = &httpclient.BasicAuth{Username: user, Password: pass}
		} else {
			req.Header.Set("Authorization", "Token "+s.cfg.Token)
		}
	}

	if s.cfg.Gzip {
		compressed, err := gzipBytes(batch)
		if err != nil {
			return err
		}

		req.Body = compressed
		req.Header.Set("Content-Encoding", "gzip")
	}

	if _, err := s.client.Do(ctx, req); err != nil {
		return fmt.Errorf("writing to InfluxDB: %w", err)
	}

	return nil
}

func (s *InfluxDBSink) Close() error {
	return nil
}

func gzipBytes(in []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, fmt.Errorf("compressing batch: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing batch: %w", err)
	}

	return buf.Bytes(), nil
}
