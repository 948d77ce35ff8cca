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

// Package soliscloud reports station and inverter power readings from the
// SolisCloud platform API.
package soliscloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/ratelimit"
)

const (
	DefaultAPIURL      = "https://www.soliscloud.com:13333"
	DefaultMeasurement = "soliscloud"

	// The API allows 3 requests per 5 seconds per key.
	requestsPerWindow = 3
	requestWindow     = 5 * time.Second

	pageSize = 100
)

// Config of the collector.
type Config struct {
	KeyID       string
	KeySecret   string
	APIURL      string
	Measurement string
	Separator   string
}

// ConfigFromEnv reads SOLIS_* variables. SOLIS_SIGN_SEPARATOR selects how
// the signed string is joined, "literal" (default) or "newline".
func ConfigFromEnv() (Config, error) {
	keyID, err := env.GetAsString("SOLIS_KEY_ID", true, "")
	if err != nil {
		return Config{}, err
	}

	secret, err := env.GetAsString("SOLIS_KEY_SECRET", true, "")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		KeyID:       keyID,
		KeySecret:   secret,
		APIURL:      strings.TrimRight(env.GetFirst(DefaultAPIURL, "SOLIS_API_URL"), "/"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}

	switch sep := env.GetFirst("literal", "SOLIS_SIGN_SEPARATOR"); sep {
	case "literal":
		cfg.Separator = SeparatorLiteral
	case "newline":
		cfg.Separator = SeparatorNewline
	default:
		return Config{}, fmt.Errorf("SOLIS_SIGN_SEPARATOR must be literal or newline, got %q", sep)
	}

	return cfg, nil
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	Data    T      `json:"data"`
}

type paged struct {
	Page struct {
		Total   int              `json:"total"`
		Records []map[string]any `json:"records"`
	} `json:"page"`
}

// stationFields maps station record keys to field names.
var stationFields = map[string]string{
	"power":     "power",
	"dayEnergy": "day_energy",
	"allEnergy": "total_energy",
}

// inverterFields maps inverter detail keys to field names.
var inverterFields = map[string]string{
	"pac":                 "power",
	"eToday":              "day_energy",
	"eTotal":              "total_energy",
	"eMonth":              "month_energy",
	"eYear":               "year_energy",
	"dcPac":               "dc_power",
	"uAc1":                "ac_voltage",
	"iAc1":                "ac_current",
	"fac":                 "ac_frequency",
	"inverterTemperature": "temperature",
	"uPv1":                "pv1_voltage",
	"iPv1":                "pv1_current",
	"uPv2":                "pv2_voltage",
	"iPv2":                "pv2_current",
	"batteryCapacitySoc":  "battery_soc",
	"batteryPower":        "battery_power",
	"familyLoadPower":     "load_power",
	"psum":                "grid_power",
}

// Collector walks stations and their inverters.
type Collector struct {
	cfg    Config
	client *httpclient.Client
	log    *zap.SugaredLogger
}

// New returns a Collector. client is wrapped with the request signer and
// the API rate limit.
func New(cfg Config, client *httpclient.Client, log *zap.SugaredLogger, now func() time.Time) *Collector {
	signer := Signer{KeyID: cfg.KeyID, Secret: cfg.KeySecret, Separator: cfg.Separator, Now: now}

	return &Collector{
		cfg:    cfg,
		client: client.WithSigner(signer.Sign).WithLimiter(ratelimit.NewFixedWindow(requestsPerWindow, requestWindow)),
		log:    log,
	}
}

func post[T any](ctx context.Context, c *Collector, path string, payload any) (*T, error) {
	resp, err := httpclient.PostJSON[envelope[T]](ctx, c.client, httpclient.Request{URL: c.cfg.APIURL + path}, payload)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("%s failed: code %s: %s", path, resp.Code, resp.Msg)
	}

	return &resp.Data, nil
}

// Collect lists all stations, then every inverter of every station. An
// inverter whose details fail is skipped and reported in the error.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	stations, err := c.records(ctx, "/v1/api/userStationList", nil)
	if err != nil {
		return nil, fmt.Errorf("listing stations: %w", err)
	}

	var (
		points []lineprotocol.Point
		errs   []error
	)

	for _, station := range stations {
		stationID := str(station["id"])
		points = append(points, StationPoint(c.cfg.Measurement, station))

		inverters, err := c.records(ctx, "/v1/api/inverterList", map[string]any{"stationId": stationID})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing inverters of station %s: %w", stationID, err))

			continue
		}

		for _, inv := range inverters {
			detail, err := post[map[string]any](ctx, c, "/v1/api/inverterDetail", map[string]any{
				"id": str(inv["id"]),
				"sn": str(inv["sn"]),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("inverter %s: %w", str(inv["sn"]), err))

				continue
			}

			points = append(points, InverterPoint(c.cfg.Measurement, stationID, *detail))
		}
	}

	return points, errors.Join(errs...)
}

// records pages through a list endpoint.
func (c *Collector) records(ctx context.Context, path string, filter map[string]any) ([]map[string]any, error) {
	var all []map[string]any

	for pageNo := 1; ; pageNo++ {
		payload := map[string]any{"pageNo": pageNo, "pageSize": pageSize}
		for k, v := range filter {
			payload[k] = v
		}

		data, err := post[paged](ctx, c, path, payload)
		if err != nil {
			return nil, err
		}

		all = append(all, data.Page.Records...)

		if len(data.Page.Records) < pageSize || len(all) >= data.Page.Total {
			return all, nil
		}
	}
}

// StationPoint converts a station record.
func StationPoint(measurement string, rec map[string]any) lineprotocol.Point {
	p := lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp).
		Tag("type", "station").
		Tag("station_id", str(rec["id"])).
		Tag("station_name", str(rec["stationName"]))

	addNumeric(p, rec, stationFields)

	return p
}

// InverterPoint converts an inverter detail, keeping the numeric values it
// knows about.
func InverterPoint(measurement, stationID string, detail map[string]any) lineprotocol.Point {
	p := lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp).
		Tag("type", "inverter").
		Tag("station_id", stationID).
		Tag("inverter_id", str(detail["id"])).
		Tag("inverter_sn", str(detail["sn"]))

	addNumeric(p, detail, inverterFields)

	return p
}

func addNumeric(p lineprotocol.Point, rec map[string]any, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if v, ok := num(rec[key]); ok {
			p.Field(fields[key], v)
		}
	}
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func num(v any) (float64, bool) {
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

// Definition of the soliscloud binary.
var Definition = plugin.Definition{
	Name:  "soliscloud",
	Short: "Report SolisCloud station and inverter readings as line protocol",
	Long: "Polls the SolisCloud API. The API allows 3 requests per 5 seconds,\n" +
		"configure the agent timeout to match the number of inverters.",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP, e.Log, e.Now), nil
	},
}
