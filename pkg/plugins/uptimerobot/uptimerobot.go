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

// Package uptimerobot reports monitor status and response times from the
// UptimeRobot API.
package uptimerobot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAPIURL      = "https://api.uptimerobot.com/v2"
	DefaultMeasurement = "website_response_times"
	DefaultDatabase    = "websites"

	// pageLimit is the largest page the API serves.
	pageLimit = 50
	maxPages  = 20
)

// Config of the collector.
type Config struct {
	APIKey      string
	APIURL      string
	Measurement string
	// Database is set as influxdb_database tag for output routing, empty
	// leaves the tag out.
	Database string
}

// ConfigFromEnv reads UPTIMEROBOT_* variables and MEASUREMENT.
func ConfigFromEnv() (Config, error) {
	key, err := env.GetAsString("UPTIMEROBOT_API_KEY", true, "")
	if err != nil {
		return Config{}, err
	}

	database, ok := os.LookupEnv("UPTIMEROBOT_DB_NAME")
	if !ok {
		database = DefaultDatabase
	}

	return Config{
		APIKey:      key,
		APIURL:      strings.TrimRight(env.GetFirst(DefaultAPIURL, "UPTIMEROBOT_API_URL"), "/"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
		Database:    database,
	}, nil
}

// Monitor as returned by getMonitors.
type Monitor struct {
	ID                  int64          `json:"id"`
	FriendlyName        string         `json:"friendly_name"`
	URL                 string         `json:"url"`
	Status              int            `json:"status"`
	AverageResponseTime any            `json:"average_response_time"`
	ResponseTimes       []ResponseTime `json:"response_times"`
}

// ResponseTime is one averaged sample.
type ResponseTime struct {
	Datetime int64 `json:"datetime"`
	Value    int64 `json:"value"`
}

type monitorsResponse struct {
	Stat       string `json:"stat"`
	Error      any    `json:"error"`
	Pagination struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
		Total  int `json:"total"`
	} `json:"pagination"`
	Monitors []Monitor `json:"monitors"`
}

// Collector reads all monitors of an account.
type Collector struct {
	cfg    Config
	client *httpclient.Client
}

// New returns a Collector.
func New(cfg Config, client *httpclient.Client) *Collector {
	return &Collector{cfg: cfg, client: client}
}

// Collect pages through getMonitors.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	var points []lineprotocol.Point

	for page, offset := 0, 0; page < maxPages; page++ {
		resp, err := httpclient.PostForm[monitorsResponse](ctx, c.client, httpclient.Request{
			URL:    c.cfg.APIURL + "/getMonitors",
			Header: http.Header{"Cache-Control": {"no-cache"}},
		}, url.Values{
			"api_key":                {c.cfg.APIKey},
			"format":                 {"json"},
			"response_times":         {"1"},
			"response_times_average": {"15"},
			"response_times_limit":   {"16"},
			"offset":                 {strconv.Itoa(offset)},
			"limit":                  {strconv.Itoa(pageLimit)},
		})
		if err != nil {
			return nil, fmt.Errorf("fetching monitors: %w", err)
		}

		if resp.Stat != "ok" {
			return nil, fmt.Errorf("getMonitors returned stat %q: %v", resp.Stat, resp.Error)
		}

		for _, m := range resp.Monitors {
			points = append(points, MonitorPoints(c.cfg.Measurement, c.cfg.Database, m)...)
		}

		offset += len(resp.Monitors)
		if len(resp.Monitors) == 0 || offset >= resp.Pagination.Total {
			break
		}
	}

	return points, nil
}

// MonitorPoints renders the monitor status followed by its response times.
func MonitorPoints(measurement, database string, m Monitor) []lineprotocol.Point {
	tags := func(p lineprotocol.Point) lineprotocol.Point {
		return p.Tag("url", m.URL).
			Tag("id", strconv.FormatInt(m.ID, 10)).
			Tag("influxdb_database", database)
	}

	status := tags(lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp)).
		Field("status", m.Status)

	if avg, ok := number(m.AverageResponseTime); ok {
		status.Field("avg_response", avg)
	}

	points := []lineprotocol.Point{status}

	for _, rt := range m.ResponseTimes {
		points = append(points, tags(lineprotocol.NewPoint(measurement, time.Unix(rt.Datetime, 0))).
			Field("response_time", rt.Value))
	}

	return points
}

// number accepts the average as JSON number or numeric string, the API has
// served both.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// Definition of the uptime-robot binary.
var Definition = plugin.Definition{
	Name:  "uptime-robot",
	Short: "Report UptimeRobot monitor status and response times as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP), nil
	},
}
