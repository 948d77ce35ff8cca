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

// Package i2pd scrapes the status page of the i2pd router web console.
package i2pd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultConsole     = "http://localhost:7070"
	DefaultMeasurement = "i2pd"
)

// Config of the collector.
type Config struct {
	Console     string
	Measurement string
}

// ConfigFromEnv reads I2PD_CONSOLE and MEASUREMENT.
func ConfigFromEnv() Config {
	return Config{
		Console:     strings.TrimRight(env.GetFirst(DefaultConsole, "I2PD_CONSOLE"), "/"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}
}

// Collector reads one console page.
type Collector struct {
	cfg    Config
	client *httpclient.Client
}

// New returns a Collector.
func New(cfg Config, client *httpclient.Client) *Collector {
	return &Collector{cfg: cfg, client: client}
}

// Collect fetches the main page and converts it into a single point.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	resp, err := c.client.Do(ctx, httpclient.Request{URL: c.cfg.Console + "/"})
	if err != nil {
		return nil, fmt.Errorf("fetching console: %w", err)
	}

	segments, err := Segments(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing console: %w", err)
	}

	p := StatusPoint(c.cfg.Measurement, c.cfg.Console, segments)
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("no statistics found on %s, is this an i2pd console?", c.cfg.Console)
	}

	return []lineprotocol.Point{p}, nil
}

// Segments splits the console page into label → value pairs. The console
// renders every statistic as "<b>Label:</b> value" and ends each line with
// <br>, several labels may share one line.
func Segments(r io.Reader) (map[string]string, error) {
	segments := map[string]string{}
	z := html.NewTokenizer(r)

	var (
		label, value strings.Builder
		inLabel      bool
		haveLabel    bool
	)

	flush := func() {
		if haveLabel {
			key := strings.TrimSuffix(strings.TrimSpace(label.String()), ":")
			if _, seen := segments[key]; !seen && key != "" {
				segments[key] = strings.Join(strings.Fields(value.String()), " ")
			}
		}

		label.Reset()
		value.Reset()

		haveLabel = false
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()

				return segments, nil
			}

			return nil, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()

			switch string(name) {
			case "b":
				flush()

				inLabel = true
				haveLabel = true
			case "br", "div", "table", "tr", "p":
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "b" {
				inLabel = false
			}
		case html.TextToken:
			if inLabel {
				label.Write(z.Text())
			} else if haveLabel {
				value.Write(z.Text())
			}
		}
	}
}

var (
	uptimeRe     = regexp.MustCompile(`([0-9]+)\s*(day|hour|minute|second)s?`)
	percentageRe = regexp.MustCompile(`([0-9]+)(?:\.[0-9]+)?\s*%`)
	volumeRe     = regexp.MustCompile(`([0-9][0-9,.]*)\s*(B|KiB|MiB|GiB|TiB)(?:\s|$|\()`)
	throughputRe = regexp.MustCompile(`([0-9][0-9,.]*)\s*KiB/s`)
	integerRe    = regexp.MustCompile(`[0-9]+`)
)

var unitSeconds = map[string]int64{"day": 86400, "hour": 3600, "minute": 60, "second": 1}

// ParseUptime converts "x days, y hours, z minutes, w seconds" to seconds.
// Missing units count as zero.
func ParseUptime(s string) int64 {
	var total int64

	for _, m := range uptimeRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}

		total += n * unitSeconds[m[2]]
	}

	return total
}

// ParsePercentage returns the first integer in front of a percent sign, 0
// when there is none.
func ParsePercentage(s string) int64 {
	m := percentageRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	n, _ := strconv.ParseInt(m[1], 10, 64)

	return n
}

var unitBytes = map[string]float64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

// ParseTraffic reads "1.5 GiB (12.34 KiB/s)" into the total volume in bytes
// and the average throughput in bits per second. The console always reports
// throughput in KiB/s.
func ParseTraffic(s string) (volume int64, bps float64) {
	if m := volumeRe.FindStringSubmatch(s); m != nil {
		if v, err := parseNumber(m[1]); err == nil {
			volume = int64(v * unitBytes[m[2]])
		}
	}

	if m := throughputRe.FindStringSubmatch(s); m != nil {
		if v, err := parseNumber(m[1]); err == nil {
			bps = v * 1024 * 8
		}
	}

	return volume, bps
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func parseInteger(s string) (int64, bool) {
	m := integerRe.FindString(s)
	if m == "" {
		return 0, false
	}

	n, err := strconv.ParseInt(m, 10, 64)

	return n, err == nil
}

// StatusPoint builds the point from the page segments, adding only what the
// console shows.
func StatusPoint(measurement, console string, segments map[string]string) lineprotocol.Point {
	p := lineprotocol.NewPoint(measurement, lineprotocol.NoTimestamp).
		Tag("url", console).
		Tag("network_status", segments["Network status"])

	if v, ok := segments["Uptime"]; ok {
		p.Field("uptime", ParseUptime(v))
	}

	if v, ok := segments["Tunnel creation success rate"]; ok {
		p.Field("tunnel_creation_success_rate", ParsePercentage(v))
	}

	for label, prefix := range map[string]string{"Received": "in", "Sent": "out", "Transit": "transit"} {
		v, ok := segments[label]
		if !ok {
			continue
		}

		volume, bps := ParseTraffic(v)
		p.Field(prefix+"_bytes", volume).Field(prefix+"_avg_bps", bps)
	}

	for label, field := range map[string]string{
		"Routers":         "routers",
		"Floodfills":      "floodfills",
		"LeaseSets":       "leasesets",
		"Client Tunnels":  "client_tunnels",
		"Transit Tunnels": "transit_tunnels",
	} {
		if n, ok := parseInteger(segments[label]); ok {
			p.Field(field, n)
		}
	}

	return p
}

// Definition of the i2pd-statistics binary.
var Definition = plugin.Definition{
	Name:  "i2pd-statistics",
	Short: "Report i2pd router statistics as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		return New(ConfigFromEnv(), e.HTTP), nil
	},
}
