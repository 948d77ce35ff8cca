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

// Package bunnycdn collects per pull zone traffic statistics from the
// BunnyCDN API.
package bunnycdn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAPIURL      = "https://api.bunny.net"
	DefaultMeasurement = "bunnycdn"

	// chartTimeLayout is the key format of the hourly charts.
	chartTimeLayout = "2006-01-02T15:04:05Z"
)

// Config of the collector.
type Config struct {
	Token       string
	APIURL      string
	Measurement string
	// Concurrency bounds parallel statistics requests.
	Concurrency int
}

// ConfigFromEnv takes the token from the first argument, falling back to
// BUNNY_TOKEN.
func ConfigFromEnv(args []string) (Config, error) {
	cfg := Config{
		APIURL:      env.GetFirst(DefaultAPIURL, "BUNNY_API_URL"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}

	if len(args) > 0 {
		cfg.Token = args[0]
	} else {
		cfg.Token = env.GetFirst("", "BUNNY_TOKEN")
	}

	if cfg.Token == "" {
		return cfg, errors.New("an API token is required, pass it as the first argument or set BUNNY_TOKEN")
	}

	concurrency, err := env.GetAsInt("BUNNY_CONCURRENCY", false, 4)
	if err != nil {
		return cfg, err
	}

	cfg.Concurrency = concurrency

	return cfg, nil
}

// PullZone as returned by /pullzone.
type PullZone struct {
	ID        int64            `json:"Id"`
	Name      string           `json:"Name"`
	EdgeRules []map[string]any `json:"EdgeRules"`
}

// Statistics as returned by /statistics with hourly charts.
type Statistics struct {
	TotalBandwidthUsed        float64 `json:"TotalBandwidthUsed"`
	TotalOriginTraffic        float64 `json:"TotalOriginTraffic"`
	AverageOriginResponseTime float64 `json:"AverageOriginResponseTime"`
	TotalRequestsServed       float64 `json:"TotalRequestsServed"`
	CacheHitRate              float64 `json:"CacheHitRate"`

	OriginTrafficChart                     map[string]float64 `json:"OriginTrafficChart"`
	Error3xxChart                          map[string]float64 `json:"Error3xxChart"`
	Error4xxChart                          map[string]float64 `json:"Error4xxChart"`
	Error5xxChart                          map[string]float64 `json:"Error5xxChart"`
	OriginResponseTimeChart                map[string]float64 `json:"OriginResponseTimeChart"`
	OriginShieldInternalBandwidthUsedChart map[string]float64 `json:"OriginShieldInternalBandwidthUsedChart"`
	BandwidthUsedChart                     map[string]float64 `json:"BandwidthUsedChart"`
	RequestsServedChart                    map[string]float64 `json:"RequestsServedChart"`
	CacheHitRateChart                      map[string]float64 `json:"CacheHitRateChart"`
}

// Collector polls all pull zones of an account.
type Collector struct {
	cfg    Config
	client *httpclient.Client
	log    *zap.SugaredLogger
	now    func() time.Time
}

// New returns a Collector.
func New(cfg Config, client *httpclient.Client, log *zap.SugaredLogger, now func() time.Time) *Collector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Collector{cfg: cfg, client: client, log: log, now: now}
}

func (c *Collector) request(path string, query url.Values) httpclient.Request {
	return httpclient.Request{
		URL:    strings.TrimRight(c.cfg.APIURL, "/") + path,
		Query:  query,
		Header: http.Header{"AccessKey": {c.cfg.Token}},
	}
}

// Collect fetches statistics since midnight UTC for every pull zone. A zone
// whose statistics cannot be fetched is skipped.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	zones, err := httpclient.GetJSON[[]PullZone](ctx, c.client, c.request("/pullzone", nil))
	if err != nil {
		return nil, fmt.Errorf("listing pull zones: %w", err)
	}

	now := c.now()
	from := now.UTC().Truncate(24 * time.Hour).Format(chartTimeLayout)

	stats := make([]*Statistics, len(*zones))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i, zone := range *zones {
		g.Go(func() error {
			s, err := httpclient.GetJSON[Statistics](gctx, c.client, c.request("/statistics", url.Values{
				"dateFrom":   {from},
				"pullZone":   {strconv.FormatInt(zone.ID, 10)},
				"loadErrors": {"true"},
				"hourly":     {"true"},
			}))
			if err != nil {
				c.log.Warnf("Skipping pull zone %s: %s", zone.Name, err)

				return nil
			}

			stats[i] = s

			return nil
		})
	}

	_ = g.Wait()

	var (
		points []lineprotocol.Point
		failed int
	)

	for i, zone := range *zones {
		if stats[i] == nil {
			failed++

			continue
		}

		points = append(points, ZonePoints(c.cfg.Measurement, zone, *stats[i], now)...)
	}

	if failed > 0 && failed == len(*zones) {
		return nil, fmt.Errorf("statistics failed for all %d pull zones", failed)
	}

	return points, nil
}

// ZonePoints converts the statistics of one zone into a summary point at now
// followed by one point per hour of the charts.
func ZonePoints(measurement string, zone PullZone, s Statistics, now time.Time) []lineprotocol.Point {
	summary := lineprotocol.NewPoint(measurement, now).
		Tag("edge_zone", zone.Name).
		Field("total_bandwidth_used", s.TotalBandwidthUsed).
		Field("total_origin_traffic", s.TotalOriginTraffic).
		Field("mean_origin_response_time", s.AverageOriginResponseTime).
		Field("total_requests_served", s.TotalRequestsServed).
		Field("mean_rhr", s.CacheHitRate).
		Field("edge_rules", len(zone.EdgeRules))

	points := []lineprotocol.Point{summary}

	intCharts := []struct {
		field string
		chart map[string]float64
	}{
		{"origin_bytes", s.OriginTrafficChart},
		{"status_3xx", s.Error3xxChart},
		{"status_4xx", s.Error4xxChart},
		{"status_5xx", s.Error5xxChart},
		{"shield_bytes", s.OriginShieldInternalBandwidthUsedChart},
		{"edge_bytes", s.BandwidthUsedChart},
		{"requests_served", s.RequestsServedChart},
	}

	floatCharts := []struct {
		field string
		chart map[string]float64
	}{
		{"origin_response_time", s.OriginResponseTimeChart},
		{"RHR", s.CacheHitRateChart},
	}

	keys := make([]string, 0, len(s.OriginTrafficChart))
	for k := range s.OriginTrafficChart {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		ts, err := time.Parse(chartTimeLayout, key)
		if err != nil {
			continue
		}

		p := lineprotocol.NewPoint(measurement, ts).Tag("edge_zone", zone.Name)

		for _, c := range intCharts {
			if v, ok := c.chart[key]; ok {
				p.Field(c.field, int64(v))
			}
		}

		for _, c := range floatCharts {
			if v, ok := c.chart[key]; ok {
				p.Field(c.field, v)
			}
		}

		points = append(points, p)
	}

	return points
}

// Definition of the bunny-cdn-stats binary.
var Definition = plugin.Definition{
	Name:  "bunny-cdn-stats",
	Short: "Report BunnyCDN pull zone statistics as line protocol",
	Long: "Fetches today's statistics of every pull zone of a BunnyCDN account.\n" +
		"The API key is taken from the first argument or BUNNY_TOKEN.",
	Args: cobra.MaximumNArgs(1),
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv(e.Args)
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP, e.Log, e.Now), nil
	},
}
