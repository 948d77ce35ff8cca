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

package soliscloud_test

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/soliscloud"
)

const apiURL = "https://solis.test:13333"

var docDate = time.Date(2019, 7, 26, 6, 0, 46, 0, time.UTC)

var _ = Describe("Sign", func() {
	It("matches the documented example", func() {
		auth := soliscloud.Sign("2424", "668018254", http.MethodPost,
			[]byte(`{"pageNo":1,"pageSize":10}`), "application/json",
			"Fri, 26 Jul 2019 06:00:46 GMT", "/v1/api/userStationList")

		Expect(auth).To(Equal("API 2424:rb9UPfK1BdxDeALx4jg3Pw4JQgs="))
	})

	It("leaves Content-MD5 empty for an empty body", func() {
		auth := soliscloud.Sign("2424", "668018254", http.MethodGet, nil, "application/json",
			"Fri, 26 Jul 2019 06:00:46 GMT", "/v1/api/x")

		Expect(auth).To(Equal("API 2424:6heto2YeDATbDgKEEUfHcBaXx3g="))
	})
})

var _ = Describe("Signer", func() {
	It("sets the signature headers on a request", func() {
		body := []byte(`{"pageNo":1,"pageSize":10}`)
		req, err := http.NewRequest(http.MethodPost, apiURL+"/v1/api/userStationList", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")

		signer := soliscloud.Signer{
			KeyID:     "2424",
			Secret:    "668018254",
			Separator: soliscloud.SeparatorNewline,
			Now:       func() time.Time { return docDate },
		}
		Expect(signer.Sign(req, body)).To(Succeed())

		Expect(req.Header.Get("Date")).To(Equal("Fri, 26 Jul 2019 06:00:46 GMT"))
		Expect(req.Header.Get("Content-MD5")).To(Equal("kxdxk7rbAsrzSIWgEwhH4w=="))
		Expect(req.Header.Get("Authorization")).To(Equal("API 2424:8+Tp7N6V3Dl/mc77eRLAcQCwoTw="))
	})
})

var _ = Describe("Collector", func() {
	var (
		client    *httpclient.Client
		collector *soliscloud.Collector
	)

	BeforeEach(func() {
		client = httpclient.New(httpclient.WithRetryPolicy(backoff.NoRetry))
		gock.InterceptClient(client.HTTPClient())

		collector = soliscloud.New(soliscloud.Config{
			KeyID:       "2424",
			KeySecret:   "668018254",
			APIURL:      apiURL,
			Measurement: "soliscloud",
		}, client, zap.NewNop().Sugar(), func() time.Time { return docDate })
	})

	AfterEach(func() {
		gock.RestoreClient(client.HTTPClient())
		gock.OffAll()
	})

	It("reports stations and inverters", func() {
		gock.New(apiURL).Post("/v1/api/userStationList").
			MatchHeader("Authorization", "^API 2424:").
			MatchHeader("Content-MD5", ".+").
			MatchHeader("Date", "GMT$").
			Reply(200).
			JSON(map[string]any{"success": true, "code": "0", "data": map[string]any{"page": map[string]any{
				"total":   1,
				"records": []map[string]any{{"id": "1001", "stationName": "Home", "power": 3.2, "dayEnergy": 12.5, "allEnergy": 1500}},
			}}})
		gock.New(apiURL).Post("/v1/api/inverterList").
			Reply(200).
			JSON(map[string]any{"success": true, "code": "0", "data": map[string]any{"page": map[string]any{
				"total":   1,
				"records": []map[string]any{{"id": "2002", "sn": "SN123"}},
			}}})
		gock.New(apiURL).Post("/v1/api/inverterDetail").
			Reply(200).
			JSON(map[string]any{"success": true, "code": "0", "data": map[string]any{
				"id": "2002", "sn": "SN123", "pac": 2.9, "eToday": "11.0", "inverterTemperature": 41.5, "stateExceptionFlag": "x",
			}})

		points, err := collector.Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(gock.IsDone()).To(BeTrue())
		Expect(points).To(HaveLen(2))

		Expect(points[0].Tags).To(Equal(map[string]string{"type": "station", "station_id": "1001", "station_name": "Home"}))
		Expect(points[0].Fields).To(Equal(map[string]any{"power": 3.2, "day_energy": 12.5, "total_energy": 1500.0}))

		Expect(points[1].Tags).To(Equal(map[string]string{
			"type": "inverter", "station_id": "1001", "inverter_id": "2002", "inverter_sn": "SN123",
		}))
		Expect(points[1].Fields).To(Equal(map[string]any{"power": 2.9, "day_energy": 11.0, "temperature": 41.5}))
	})

	It("fails when the API reports an error", func() {
		gock.New(apiURL).Post("/v1/api/userStationList").
			Reply(200).
			JSON(map[string]any{"success": false, "code": "B0115", "msg": "sign error"})

		_, err := collector.Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("sign error")))
	})
})
