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

// Package certbot is a certbot deploy hook reporting renewed certificates.
// Certbot runs deploy hooks with the renewed domains in RENEWED_DOMAINS.
package certbot

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/output"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const DefaultMeasurement = "certbot_renewal"

// Config of the hook.
type Config struct {
	Domains     []string
	Measurement string
	Host        string
}

// ConfigFromEnv reads RENEWED_DOMAINS, MEASUREMENT and HOSTNAME.
func ConfigFromEnv() (Config, error) {
	domains := strings.Fields(os.Getenv("RENEWED_DOMAINS"))
	if len(domains) == 0 {
		return Config{}, errors.New("RENEWED_DOMAINS is empty, this command is meant to run as certbot deploy hook")
	}

	host := os.Getenv("HOSTNAME")
	if host == "" {
		var err error
		if host, err = os.Hostname(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		Domains:     domains,
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
		Host:        host,
	}, nil
}

// Points reports the number of renewed domains under domain=all and one
// point per domain, all at ts.
func Points(cfg Config, ts time.Time) []lineprotocol.Point {
	points := make([]lineprotocol.Point, 0, len(cfg.Domains)+1)

	points = append(points, lineprotocol.NewPoint(cfg.Measurement, ts).
		Tag("host", cfg.Host).
		Tag("domain", "all").
		Field("renewed_count", len(cfg.Domains)))

	for _, d := range cfg.Domains {
		points = append(points, lineprotocol.NewPoint(cfg.Measurement, ts).
			Tag("host", cfg.Host).
			Tag("domain", d).
			Field("renewed_count", 1))
	}

	return points
}

// Definition of the certbot-renewal-report binary. Unlike the other
// commands it writes to InfluxDB unless OUTPUT says otherwise.
var Definition = plugin.Definition{
	Name:          "certbot-renewal-report",
	Short:         "Report certbot renewals to InfluxDB",
	Long:          "Install as certbot deploy hook, e.g. in /etc/letsencrypt/renewal-hooks/deploy.",
	DefaultOutput: output.KindInfluxDB,
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		ts := e.Now()

		return plugin.CollectorFunc(func(context.Context) ([]lineprotocol.Point, error) {
			return Points(cfg, ts), nil
		}), nil
	},
}
