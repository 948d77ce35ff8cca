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

// Package webmention reports recent mentions received through webmention.io.
package webmention

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAPIURL      = "https://webmention.io/api"
	DefaultMeasurement = "webmentions"
	DefaultWindow      = 60 * time.Minute

	maxContentLength = 1000
	sinceLayout      = "2006-01-02T15:04:05Z"
)

// Config of the collector.
type Config struct {
	Tokens      []string
	Window      time.Duration
	APIURL      string
	Measurement string
}

// ConfigFromEnv reads WEBMENTION_* variables and MEASUREMENT.
func ConfigFromEnv() (Config, error) {
	tokens, err := env.GetAsList("WEBMENTION_TOKENS", true)
	if err != nil {
		return Config{}, err
	}

	window, err := env.GetAsDuration("WEBMENTION_MINUTES", false, DefaultWindow, time.Minute)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Tokens:      tokens,
		Window:      window,
		APIURL:      strings.TrimRight(env.GetFirst(DefaultAPIURL, "WEBMENTION_API_URL"), "/"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}, nil
}

// Mention is a jf2 entry.
type Mention struct {
	Author struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"author"`
	URL        string `json:"url"`
	Published  string `json:"published"`
	Received   string `json:"wm-received"`
	ID         int64  `json:"wm-id"`
	Target     string `json:"wm-target"`
	Property   string `json:"wm-property"`
	Content    *struct {
		Text string `json:"text"`
	} `json:"content"`
}

type feed struct {
	Children []Mention `json:"children"`
}

// Collector queries every configured token.
type Collector struct {
	cfg    Config
	client *httpclient.Client
	log    *zap.SugaredLogger
	now    func() time.Time
}

// New returns a Collector.
func New(cfg Config, client *httpclient.Client, log *zap.SugaredLogger, now func() time.Time) *Collector {
	return &Collector{cfg: cfg, client: client, log: log, now: now}
}

// Collect fetches mentions received within the window. A failing token is
// skipped, the run only fails when every token fails.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	since := c.now().Add(-c.cfg.Window).UTC().Format(sinceLayout)

	var (
		points []lineprotocol.Point
		failed int
	)

	for i, token := range c.cfg.Tokens {
		f, err := httpclient.GetJSON[feed](ctx, c.client, httpclient.Request{
			URL:   c.cfg.APIURL + "/mentions.jf2",
			Query: url.Values{"token": {token}, "since": {since}},
		})
		if err != nil {
			failed++

			c.log.Warnf("Skipping token %d: %s", i+1, err)

			continue
		}

		for _, m := range f.Children {
			p, err := MentionPoint(c.cfg.Measurement, m)
			if err != nil {
				c.log.Warnf("Skipping mention %d: %s", m.ID, err)

				continue
			}

			points = append(points, p)
		}
	}

	if failed > 0 && failed == len(c.cfg.Tokens) {
		return nil, fmt.Errorf("fetching mentions failed for all %d tokens", failed)
	}

	return points, nil
}

// Timestamp prefers the published date in any common format and falls
// back to the time webmention.io received the mention.
func Timestamp(m Mention) (time.Time, error) {
	if m.Published != "" {
		if ts, err := dateparse.ParseIn(m.Published, time.UTC); err == nil {
			return ts, nil
		}
	}

	ts, err := time.Parse(time.RFC3339, m.Received)
	if err != nil {
		return time.Time{}, fmt.Errorf("no usable date: %w", err)
	}

	return ts, nil
}

// MentionPoint converts a mention.
func MentionPoint(measurement string, m Mention) (lineprotocol.Point, error) {
	ts, err := Timestamp(m)
	if err != nil {
		return lineprotocol.Point{}, err
	}

	target, _, _ := strings.Cut(m.Target, "#")

	p := lineprotocol.NewPoint(measurement, ts).
		Tag("type", m.Property).
		Tag("url", target).
		Tag("author", m.Author.Name).
		Tag("influxdb_database", "webmentions").
		Field("id", m.ID).
		Field("author_url", m.Author.URL).
		Field("linked_from", m.URL)

	if m.Content != nil {
		p.Field("content", Excerpt(m.Content.Text))
	}

	return p, nil
}

// Excerpt keeps the first characters of text on a single line.
func Excerpt(text string) string {
	if r := []rune(text); len(r) > maxContentLength {
		text = string(r[:maxContentLength])
	}

	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
}

// Definition of the webmention-io binary.
var Definition = plugin.Definition{
	Name:  "webmention-io",
	Short: "Report webmention.io mentions as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP, e.Log, e.Now), nil
	},
}
