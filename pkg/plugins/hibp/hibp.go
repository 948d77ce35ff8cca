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

// Package hibp reports breached mailboxes of a verified domain using the
// HaveIBeenPwned domain search API.
package hibp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAPIURL      = "https://haveibeenpwned.com/api/v3"
	DefaultMeasurement = "hibp_domain_search"
)

// Config of the collector.
type Config struct {
	Token       string
	Domain      string
	APIURL      string
	Measurement string
}

// ConfigFromEnv reads HIBP_* variables. INFLUXBD_MEASUREMENT is accepted
// for existing deployments.
func ConfigFromEnv() (Config, error) {
	token, err := env.GetAsString("HIBP_TOKEN", true, "")
	if err != nil {
		return Config{}, err
	}

	domain, err := env.GetAsString("HIBP_SEARCH_DOMAIN", true, "")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Token:       token,
		Domain:      domain,
		APIURL:      env.GetFirst(DefaultAPIURL, "HIBP_API_URL"),
		Measurement: env.GetFirst(DefaultMeasurement, "INFLUXDB_MEASUREMENT", "INFLUXBD_MEASUREMENT"),
	}, nil
}

// Collector runs one domain search.
type Collector struct {
	cfg    Config
	client *httpclient.Client
}

// New returns a Collector. HIBP answers 429 when polled too often and
// retrying inside the same run only makes it worse, so the client must not
// retry.
func New(cfg Config, client *httpclient.Client) *Collector {
	return &Collector{cfg: cfg, client: client}
}

// Collect queries the breached domain endpoint. A 404 means the domain has
// no breached accounts.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	breaches, err := httpclient.GetJSON[map[string][]string](ctx, c.client, httpclient.Request{
		URL:    strings.TrimRight(c.cfg.APIURL, "/") + "/breacheddomain/" + url.PathEscape(c.cfg.Domain),
		Header: http.Header{"hibp-api-key": {c.cfg.Token}},
	})

	switch {
	case err == nil:
		return Points(c.cfg.Measurement, c.cfg.Domain, *breaches), nil
	case httpclient.IsStatus(err, http.StatusNotFound):
		return nil, nil
	case httpclient.IsStatus(err, http.StatusTooManyRequests):
		return nil, fmt.Errorf("rate limited by HIBP, reduce the polling interval: %w", err)
	default:
		return nil, fmt.Errorf("searching domain %s: %w", c.cfg.Domain, err)
	}
}

// Points turns mailbox → breach names into one point per mailbox and one per
// breached service, both sorted.
func Points(measurement, domain string, breaches map[string][]string) []lineprotocol.Point {
	mailboxes := make([]string, 0, len(breaches))
	services := map[string][]string{}

	for mbox, names := range breaches {
		mailboxes = append(mailboxes, mbox)

		for _, name := range names {
			services[name] = append(services[name], mbox+"@"+domain)
		}
	}

	sort.Strings(mailboxes)

	points := make([]lineprotocol.Point, 0, len(breaches)+len(services))

	for _, mbox := range mailboxes {
		points = append(points, lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp).
			Tag("by", "email").
			Tag("email", mbox+"@"+domain).
			Tag("search_domain", domain).
			Tag("mbox", mbox).
			Field("count", len(breaches[mbox])))
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		emails := services[name]
		sort.Strings(emails)

		points = append(points, lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp).
			Tag("by", "pwned_site").
			Tag("service", name).
			Tag("search_domain", domain).
			Field("count", len(emails)).
			Field("emails", strings.Join(emails, ",")))
	}

	return points
}

// Definition of the hibp-domain-search binary.
var Definition = plugin.Definition{
	Name:  "hibp-domain-search",
	Short: "Report HaveIBeenPwned breaches of a domain as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP.WithRetryPolicy(backoff.NoRetry)), nil
	},
}
