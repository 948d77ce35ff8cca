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

package bunnycdn_test

import (
	"context"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/bunnycdn"
)

const apiURL = "https://api.bunny.test"

var now = time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

func statistics() map[string]any {
	return map[string]any{
		"TotalBandwidthUsed":        1024.0,
		"TotalOriginTraffic":        256.0,
		"AverageOriginResponseTime": 12.5,
		"TotalRequestsServed":       40.0,
		"CacheHitRate":              87.5,
		"OriginTrafficChart":        map[string]float64{"2024-03-10T01:00:00Z": 10, "2024-03-10T00:00:00Z": 20},
		"Error3xxChart":             map[string]float64{"2024-03-10T00:00:00Z": 1, "2024-03-10T01:00:00Z": 0},
		"Error4xxChart":             map[string]float64{"2024-03-10T00:00:00Z": 2, "2024-03-10T01:00:00Z": 0},
		"Error5xxChart":             map[string]float64{"2024-03-10T00:00:00Z": 3, "2024-03-10T01:00:00Z": 0},
		"OriginResponseTimeChart":   map[string]float64{"2024-03-10T00:00:00Z": 11.5},
		"BandwidthUsedChart":        map[string]float64{"2024-03-10T00:00:00Z": 700.9, "2024-03-10T01:00:00Z": 300},
		"RequestsServedChart":       map[string]float64{"2024-03-10T00:00:00Z": 25, "2024-03-10T01:00:00Z": 15},
		"CacheHitRateChart":         map[string]float64{"2024-03-10T00:00:00Z": 50.5, "2024-03-10T01:00:00Z": 100},
	}
}

var _ = Describe("ZonePoints", func() {
	It("emits a summary and one point per chart hour in time order", func() {
		zone := bunnycdn.PullZone{ID: 1, Name: "site", EdgeRules: []map[string]any{{}, {}}}
		stats := bunnycdn.Statistics{
			TotalBandwidthUsed: 1024,
			CacheHitRate:       87.5,
			OriginTrafficChart: map[string]float64{"2024-03-10T01:00:00Z": 10, "2024-03-10T00:00:00Z": 20, "garbage": 1},
			BandwidthUsedChart: map[string]float64{"2024-03-10T00:00:00Z": 700.9},
			CacheHitRateChart:  map[string]float64{"2024-03-10T00:00:00Z": 50.5},
		}

		points := bunnycdn.ZonePoints("bunnycdn", zone, stats, now)

		Expect(points).To(HaveLen(3))
		Expect(points[0].Time).To(Equal(now))
		Expect(points[0].Tags).To(HaveKeyWithValue("edge_zone", "site"))
		Expect(points[0].Fields).To(HaveKeyWithValue("edge_rules", 2))
		Expect(points[0].Fields).To(HaveKeyWithValue("mean_rhr", 87.5))

		Expect(points[1].Time).To(Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))
		Expect(points[1].Fields).To(Equal(map[string]any{
			"origin_bytes": int64(20),
			"edge_bytes":   int64(700),
			"RHR":          50.5,
		}))

		Expect(points[2].Time).To(Equal(time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)))
		Expect(points[2].Fields).To(Equal(map[string]any{"origin_bytes": int64(10)}))
	})
})

var _ = Describe("Collector", func() {
	var (
		client    *httpclient.Client
		collector *bunnycdn.Collector
	)

	BeforeEach(func() {
		client = httpclient.New(httpclient.WithRetryPolicy(backoff.NoRetry))
		gock.InterceptClient(client.HTTPClient())

		collector = bunnycdn.New(bunnycdn.Config{
			Token:       "secret",
			APIURL:      apiURL,
			Measurement: "bunnycdn",
			Concurrency: 2,
		}, client, zap.NewNop().Sugar(), func() time.Time { return now })
	})

	AfterEach(func() {
		gock.RestoreClient(client.HTTPClient())
		gock.OffAll()
	})

	It("fetches statistics since midnight for every zone", func() {
		gock.New(apiURL).Get("/pullzone").
			MatchHeader("AccessKey", "secret").
			Reply(200).
			JSON([]map[string]any{{"Id": 1, "Name": "a", "EdgeRules": []any{}}, {"Id": 2, "Name": "b"}})

		for _, id := range []string{"1", "2"} {
			gock.New(apiURL).Get("/statistics").
				MatchHeader("AccessKey", "secret").
				MatchParam("pullZone", id).
				MatchParam("dateFrom", "2024-03-10T00:00:00Z").
				MatchParam("hourly", "true").
				MatchParam("loadErrors", "true").
				Reply(200).
				JSON(statistics())
		}

		points, err := collector.Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(6))
		Expect(points[0].Tags["edge_zone"]).To(Equal("a"))
		Expect(points[3].Tags["edge_zone"]).To(Equal("b"))

		out, err := lineprotocol.Encode(points[:2])
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("bunnycdn,edge_zone=a "))
		Expect(string(out)).To(ContainSubstring("status_5xx=3i"))
		Expect(gock.IsDone()).To(BeTrue())
	})

	It("skips zones whose statistics fail", func() {
		gock.New(apiURL).Get("/pullzone").Reply(200).
			JSON([]map[string]any{{"Id": 1, "Name": "a"}, {"Id": 2, "Name": "b"}})
		gock.New(apiURL).Get("/statistics").MatchParam("pullZone", "1").Reply(500)
		gock.New(apiURL).Get("/statistics").MatchParam("pullZone", "2").Reply(200).JSON(statistics())

		points, err := collector.Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(3))
		Expect(points[0].Tags["edge_zone"]).To(Equal("b"))
	})

	It("fails when every zone fails", func() {
		gock.New(apiURL).Get("/pullzone").Reply(200).JSON([]map[string]any{{"Id": 1, "Name": "a"}})
		gock.New(apiURL).Get("/statistics").Reply(500)

		_, err := collector.Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("all 1 pull zones")))
	})

	It("aborts when the zone list cannot be fetched", func() {
		gock.New(apiURL).Get("/pullzone").Reply(401)

		_, err := collector.Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("listing pull zones")))
	})
})

var _ = Describe("ConfigFromEnv", func() {
	It("prefers the argument over BUNNY_TOKEN", func() {
		GinkgoT().Setenv("BUNNY_TOKEN", "from-env")

		cfg, err := bunnycdn.ConfigFromEnv([]string{"from-arg"})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Token).To(Equal("from-arg"))
		Expect(cfg.APIURL).To(Equal(bunnycdn.DefaultAPIURL))
	})

	It("requires a token", func() {
		GinkgoT().Setenv("BUNNY_TOKEN", "")

		_, err := bunnycdn.ConfigFromEnv(nil)
		Expect(err).To(HaveOccurred())
	})
})
