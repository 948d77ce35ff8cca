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

// Package pihole aggregates the Pi-hole query log into per client counters
// for every minute.
package pihole

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAddress     = "http://127.0.0.1:8080"
	DefaultMeasurement = "pihole_clients"
	DefaultRange       = 15 * time.Minute
)

// Answer types a query is counted as.
const (
	Blocklisted    = "blocklisted"
	Forwarded      = "forwarded"
	CachedResponse = "cachedresponse"
	WildcardBlock  = "wildcardblock"
	Other          = "other"
)

// Config of the collector.
type Config struct {
	Address     string
	Token       string
	Range       time.Duration
	Measurement string
}

// ConfigFromEnv reads PIHOLE_*, QUERY_TIME_RANGE (minutes) and MEASUREMENT.
func ConfigFromEnv() (Config, error) {
	r, err := env.GetAsDuration("QUERY_TIME_RANGE", false, DefaultRange, time.Minute)
	if err != nil {
		return Config{}, err
	}

	if r <= 0 {
		return Config{}, fmt.Errorf("QUERY_TIME_RANGE must be positive, got %s", r)
	}

	return Config{
		Address:     strings.TrimRight(env.GetFirst(DefaultAddress, "PIHOLE_ADDRESS"), "/"),
		Token:       env.GetFirst("", "PIHOLE_TOKEN"),
		Range:       r,
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}, nil
}

// Counters of one client in one minute.
type Counters struct {
	Blocklisted    int64
	Forwarded      int64
	CachedResponse int64
	WildcardBlock  int64
	Other          int64
	Total          int64
}

func (c *Counters) add(status int) {
	switch AnswerType(status) {
	case Blocklisted:
		c.Blocklisted++
	case Forwarded:
		c.Forwarded++
	case CachedResponse:
		c.CachedResponse++
	case WildcardBlock:
		c.WildcardBlock++
	default:
		c.Other++
	}

	c.Total++
}

// AnswerType maps the status column of the query log.
func AnswerType(status int) string {
	switch status {
	case 1:
		return Blocklisted
	case 2:
		return Forwarded
	case 3:
		return CachedResponse
	case 4:
		return WildcardBlock
	default:
		return Other
	}
}

// Bucket identifies one minute of one client.
type Bucket struct {
	Minute int64
	Client string
}

// Aggregate counts rows per minute and client. A row is
// [timestamp, type, domain, client, status, ...], values may be strings or
// numbers. Malformed rows are skipped and counted.
func Aggregate(rows [][]any) (map[Bucket]*Counters, int) {
	buckets := map[Bucket]*Counters{}
	skipped := 0

	for _, row := range rows {
		if len(row) < 5 {
			skipped++

			continue
		}

		ts, ok1 := asInt(row[0])
		status, ok2 := asInt(row[4])
		client, ok3 := row[3].(string)

		if !ok1 || !ok2 || !ok3 || client == "" {
			skipped++

			continue
		}

		key := Bucket{Minute: ts / 60 * 60, Client: client}
		if buckets[key] == nil {
			buckets[key] = &Counters{}
		}

		buckets[key].add(int(status))
	}

	return buckets, skipped
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)

		return i, err == nil
	default:
		return 0, false
	}
}

// Points renders buckets ordered by minute, then client.
func Points(measurement string, buckets map[Bucket]*Counters) []lineprotocol.Point {
	keys := make([]Bucket, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Minute != keys[j].Minute {
			return keys[i].Minute < keys[j].Minute
		}

		return keys[i].Client < keys[j].Client
	})

	points := make([]lineprotocol.Point, 0, len(keys))

	for _, k := range keys {
		c := buckets[k]
		points = append(points, lineprotocol.NewPoint(measurement, time.Unix(k.Minute, 0)).
			Tag("client", k.Client).
			Field(Blocklisted, c.Blocklisted).
			Field(Forwarded, c.Forwarded).
			Field(CachedResponse, c.CachedResponse).
			Field(WildcardBlock, c.WildcardBlock).
			Field(Other, c.Other).
			Field("total", c.Total))
	}

	return points
}

type queryLog struct {
	Data *[][]any `json:"data"`
}

// Collector reads one window of the query log.
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

// Collect fetches the queries between the start of the minute Range ago and
// now.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	now := c.now()
	from := now.Add(-c.cfg.Range).Truncate(time.Minute)

	q := url.Values{
		"from":  {strconv.FormatInt(from.Unix(), 10)},
		"until": {strconv.FormatInt(now.Unix(), 10)},
		"auth":  {c.cfg.Token},
	}

	resp, err := httpclient.GetJSON[queryLog](ctx, c.client, httpclient.Request{
		URL:   c.cfg.Address + "/admin/api.php?getAllQueries",
		Query: q,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching query log: %w", err)
	}

	if resp.Data == nil {
		return nil, errors.New("query log response has no data, check PIHOLE_TOKEN")
	}

	buckets, skipped := Aggregate(*resp.Data)
	if skipped > 0 {
		c.log.Warnf("Skipped %d malformed query log rows", skipped)
	}

	return Points(c.cfg.Measurement, buckets), nil
}

// Definition of the pihole-granular-stats binary.
var Definition = plugin.Definition{
	Name:  "pihole-granular-stats",
	Short: "Report per client Pi-hole query counters as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP, e.Log, e.Now), nil
	},
}
