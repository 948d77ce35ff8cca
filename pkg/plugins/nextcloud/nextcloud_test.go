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

package nextcloud_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/nextcloud"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ocs(data any) map[string]any {
	return map[string]any{"ocs": map[string]any{
		"meta": map[string]any{"status": "ok", "statuscode": 200},
		"data": data,
	}}
}

var _ = Describe("Normalize", func() {
	It("maps unlimited quotas to zero", func() {
		q := nextcloud.Normalize(nextcloud.Quota{Quota: -3, Relative: 12.5, Used: 100, Free: 50})

		Expect(q.Quota).To(BeZero())
		Expect(q.Relative).To(BeZero())
		Expect(q.Used).To(Equal(100.0))
	})

	It("keeps limited quotas", func() {
		q := nextcloud.Normalize(nextcloud.Quota{Quota: 1000, Relative: 10})

		Expect(q.Quota).To(Equal(1000.0))
		Expect(q.Relative).To(Equal(10.0))
	})
})

var _ = DescribeTable("Quota decoding",
	func(payload string, expected nextcloud.Quota) {
		var q nextcloud.Quota
		Expect(json.Unmarshal([]byte(payload), &q)).To(Succeed())
		Expect(q).To(Equal(expected))
	},
	Entry("number", `{"free":900,"used":100,"total":1000,"relative":10,"quota":1000}`,
		nextcloud.Quota{Free: 900, Used: 100, Total: 1000, Relative: 10, Quota: 1000}),
	Entry("numeric string", `{"used":1,"quota":"5368709120"}`, nextcloud.Quota{Used: 1, Quota: 5368709120}),
	Entry("never logged in", `{"quota":"none","used":0}`, nextcloud.Quota{Quota: -3}),
	Entry("missing quota", `{"used":4}`, nextcloud.Quota{Used: 4, Quota: -3}),
)

var _ = Describe("Collector", func() {
	var (
		client    *httpclient.Client
		collector *nextcloud.Collector
	)

	BeforeEach(func() {
		client = httpclient.New(httpclient.WithRetryPolicy(backoff.NoRetry))
		gock.InterceptClient(client.HTTPClient())

		collector = nextcloud.New(nextcloud.Config{
			Domain:      "cloud.test",
			Proto:       "https",
			User:        "admin",
			Password:    "pw",
			Measurement: "nextcloud_quotas",
		}, client, zap.NewNop().Sugar(), func() time.Time { return now })
	})

	AfterEach(func() {
		gock.RestoreClient(client.HTTPClient())
		gock.OffAll()
	})

	It("reports one point per user with a shared timestamp", func() {
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users").
			MatchParam("format", "json").
			MatchHeader("OCS-APIRequest", "true").
			MatchHeader("Authorization", "Basic YWRtaW46cHc=").
			Reply(200).
			JSON(ocs(map[string]any{"users": []string{"alice", "bob", "carol", "dave"}}))
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users/alice").Reply(200).
			JSON(ocs(map[string]any{"quota": map[string]any{"free": 900, "used": 100, "total": 1000, "relative": 10.0, "quota": 1000}}))
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users/bob").Reply(500)
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users/carol").Reply(200).
			JSON(ocs(map[string]any{"quota": map[string]any{"free": 5, "used": 7, "relative": 58.3, "quota": -3}}))
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users/dave").Reply(200).
			JSON(ocs(map[string]any{"quota": map[string]any{"quota": "none", "used": 0}}))

		points, err := collector.Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(3))

		Expect(points[0].Tags).To(Equal(map[string]string{"user": "alice", "hostname": "cloud.test"}))
		Expect(points[0].Fields).To(Equal(map[string]any{
			"quota":        int64(1000),
			"free":         int64(900),
			"used":         int64(100),
			"percent_used": 10.0,
		}))

		Expect(points[1].Tags["user"]).To(Equal("carol"))
		Expect(points[1].Fields["quota"]).To(Equal(int64(0)))
		Expect(points[1].Fields["percent_used"]).To(Equal(0.0))

		Expect(points[2].Tags["user"]).To(Equal("dave"))
		Expect(points[2].Fields).To(Equal(map[string]any{
			"quota":        int64(0),
			"free":         int64(0),
			"used":         int64(0),
			"percent_used": 0.0,
		}))

		for _, p := range points {
			Expect(p.Time).To(Equal(now))
		}
	})

	It("fails when the user list is unavailable", func() {
		gock.New("https://cloud.test").Get("/ocs/v2.php/cloud/users").Reply(401)

		_, err := collector.Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("listing users")))
	})
})
