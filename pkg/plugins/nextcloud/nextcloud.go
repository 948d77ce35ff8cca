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

// Package nextcloud reports per user storage quotas through the Nextcloud
// OCS provisioning API.
package nextcloud

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/safejson"
)

const DefaultMeasurement = "nextcloud_quotas"

// unlimitedQuota is what Nextcloud reports as a number for unlimited storage.
const unlimitedQuota = -3

// Config of the collector.
type Config struct {
	Domain      string
	Proto       string
	User        string
	Password    string
	Measurement string
}

// ConfigFromEnv reads NEXTCLOUD_* variables.
func ConfigFromEnv() (Config, error) {
	domain, err := env.GetAsString("NEXTCLOUD_DOMAIN", true, "")
	if err != nil {
		return Config{}, err
	}

	user, err := env.GetAsString("NEXTCLOUD_USER", true, "")
	if err != nil {
		return Config{}, err
	}

	password, err := env.GetAsString("NEXTCLOUD_PASSWORD", true, "")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Domain:      domain,
		Proto:       env.GetFirst("https", "NEXTCLOUD_PROTO"),
		User:        user,
		Password:    password,
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}, nil
}

type envelope[T any] struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
			Message    string `json:"message"`
		} `json:"meta"`
		Data T `json:"data"`
	} `json:"ocs"`
}

type userList struct {
	Users []string `json:"users"`
}

// Quota of one user. Quota is negative for unlimited storage.
type Quota struct {
	Free     float64
	Used     float64
	Total    float64
	Relative float64
	Quota    float64
}

// UnmarshalJSON accepts the quota as a number, a numeric string or a word
// such as "none" for users that never logged in. Words and a missing quota
// mean unlimited.
func (q *Quota) UnmarshalJSON(data []byte) error {
	var raw struct {
		Free     float64 `json:"free"`
		Used     float64 `json:"used"`
		Total    float64 `json:"total"`
		Relative float64 `json:"relative"`
		Quota    any     `json:"quota"`
	}

	if err := safejson.Unmarshal(data, &raw); err != nil {
		return err
	}

	*q = Quota{Free: raw.Free, Used: raw.Used, Total: raw.Total, Relative: raw.Relative, Quota: unlimitedQuota}

	switch v := raw.Quota.(type) {
	case float64:
		q.Quota = v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.Quota = f
		}
	}

	return nil
}

type userInfo struct {
	Quota Quota `json:"quota"`
}

// Collector polls every user of one instance.
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

func (c *Collector) request(path string) httpclient.Request {
	return httpclient.Request{
		URL:       fmt.Sprintf("%s://%s/ocs/v2.php/cloud%s", c.cfg.Proto, c.cfg.Domain, path),
		Query:     url.Values{"format": {"json"}},
		Header:    http.Header{"OCS-APIRequest": {"true"}},
		BasicAuth: &httpclient.BasicAuth{Username: c.cfg.User, Password: c.cfg.Password},
	}
}

// Collect lists the users and fetches each quota. Users whose details cannot
// be fetched are skipped.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	list, err := httpclient.GetJSON[envelope[userList]](ctx, c.client, c.request("/users"))
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	ts := c.now()
	points := make([]lineprotocol.Point, 0, len(list.OCS.Data.Users))

	for _, user := range list.OCS.Data.Users {
		info, err := httpclient.GetJSON[envelope[userInfo]](ctx, c.client, c.request("/users/"+url.PathEscape(user)))
		if err != nil {
			c.log.Warnf("Skipping user %s: %s", user, err)

			continue
		}

		points = append(points, QuotaPoint(c.cfg.Measurement, c.cfg.Domain, user, info.OCS.Data.Quota, ts))
	}

	return points, nil
}

// Normalize maps unlimited quotas (negative) to zero quota and zero usage
// ratio.
func Normalize(q Quota) Quota {
	if q.Quota < 0 {
		q.Quota = 0
		q.Relative = 0
	}

	return q
}

// QuotaPoint converts a quota into a point.
func QuotaPoint(measurement, hostname, user string, q Quota, ts time.Time) lineprotocol.Point {
	q = Normalize(q)

	return lineprotocol.NewPoint(measurement, ts).
		Tag("user", user).
		Tag("hostname", hostname).
		Field("quota", int64(q.Quota)).
		Field("free", int64(q.Free)).
		Field("used", int64(q.Used)).
		Field("percent_used", q.Relative)
}

// Definition of the nextcloud-user-quotas binary.
var Definition = plugin.Definition{
	Name:  "nextcloud-user-quotas",
	Short: "Report Nextcloud user storage quotas as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, e.HTTP, e.Log, e.Now), nil
	},
}
