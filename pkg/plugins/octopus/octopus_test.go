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

package octopus_test

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
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/octopus"
)

const apiURL = "https://api.octopus.test/v1"

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	Expect(err).NotTo(HaveOccurred())

	return t
}

func ptr[T any](v T) *T { return &v }

func account() map[string]any {
	return map[string]any{
		"number": "A-123",
		"properties": []map[string]any{{
			"id":          42,
			"moved_in_at": "2021-06-01T00:00:00+01:00",
			"electricity_meter_points": []map[string]any{{
				"mpan":   "1900000000000",
				"meters": []map[string]any{{"serial_number": "OLD"}, {"serial_number": "S1"}},
				"agreements": []map[string]any{
					{"tariff_code": "E-1R-OLD-20-01-01-A", "valid_from": "2020-01-01T00:00:00Z", "valid_to": "2022-11-01T00:00:00Z"},
					{"tariff_code": "E-1R-VAR-22-11-01-A", "valid_from": "2022-11-01T00:00:00Z", "valid_to": nil},
				},
			}},
		}},
	}
}

var _ = Describe("ParseTariffCode", func() {
	It("splits product and region", func() {
		t, err := octopus.ParseTariffCode("E-1R-VAR-22-11-01-A")
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(octopus.Tariff{Code: "E-1R-VAR-22-11-01-A", Product: "VAR-22-11-01", Region: "A"}))
	})

	It("rejects short codes", func() {
		_, err := octopus.ParseTariffCode("E-1R")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ActiveAgreement", func() {
	It("picks the agreement valid now", func() {
		a, ok := octopus.ActiveAgreement([]octopus.Agreement{
			{TariffCode: "new", ValidFrom: at("2025-01-01T00:00:00Z")},
			{TariffCode: "current", ValidFrom: at("2023-01-01T00:00:00Z"), ValidTo: ptr(at("2025-01-01T00:00:00Z"))},
		}, now)

		Expect(ok).To(BeTrue())
		Expect(a.TariffCode).To(Equal("current"))
	})

	It("falls back to the latest agreement", func() {
		a, ok := octopus.ActiveAgreement([]octopus.Agreement{
			{TariffCode: "older", ValidFrom: at("2020-01-01T00:00:00Z"), ValidTo: ptr(at("2021-01-01T00:00:00Z"))},
			{TariffCode: "newer", ValidFrom: at("2021-01-01T00:00:00Z"), ValidTo: ptr(at("2022-01-01T00:00:00Z"))},
		}, now)

		Expect(ok).To(BeTrue())
		Expect(a.TariffCode).To(Equal("newer"))
	})

	It("reports a meter point without agreements", func() {
		_, ok := octopus.ActiveAgreement(nil, now)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ExpandRate", func() {
	windowStart := now.Add(-24 * time.Hour)

	It("emits one point per half hour of a closed rate", func() {
		points := octopus.ExpandRate(octopus.Rate{
			ValueExcVAT: 20,
			ValueIncVAT: 21,
			ValidFrom:   at("2024-03-10T10:00:00Z"),
			ValidTo:     ptr(at("2024-03-10T11:00:00Z")),
		}, "E-1R-VAR-22-11-01-A", octopus.ChargeUsage, windowStart, now)

		Expect(points).To(HaveLen(2))
		Expect(points[0].Time).To(Equal(at("2024-03-10T10:00:00Z")))
		Expect(points[1].Time).To(Equal(at("2024-03-10T10:30:00Z")))
		Expect(points[0].Tags).To(HaveKeyWithValue("charge_type", "usage-charge"))
		Expect(points[0].Fields).To(HaveKeyWithValue("valid_to", "2024-03-10T11:00:00Z"))
	})

	It("clamps old open ended rates to the window and stays on the slot grid", func() {
		points := octopus.ExpandRate(octopus.Rate{
			ValidFrom: at("2023-04-01T00:15:00Z"),
		}, "T", octopus.ChargeStanding, windowStart, now)

		Expect(points).To(HaveLen(48))
		Expect(points[0].Time).To(Equal(at("2024-03-09T12:15:00Z")))
		Expect(points[47].Time).To(Equal(at("2024-03-10T11:45:00Z")))
		Expect(points[0].Fields).To(HaveKeyWithValue("valid_to", ""))
	})

	It("emits nothing for a rate that ended before it started", func() {
		points := octopus.ExpandRate(octopus.Rate{
			ValidFrom: at("2024-03-10T10:00:00Z"),
			ValidTo:   ptr(at("2024-03-10T10:00:00Z")),
		}, "T", octopus.ChargeUsage, windowStart, now)

		Expect(points).To(BeEmpty())
	})
})

var _ = Describe("Collectors", func() {
	var client *httpclient.Client

	cfg := octopus.Config{Key: "sk_test", Account: "A-123", APIURL: apiURL}
	clock := func() time.Time { return now }

	BeforeEach(func() {
		client = httpclient.New(httpclient.WithRetryPolicy(backoff.NoRetry))
		gock.InterceptClient(client.HTTPClient())

		gock.New(apiURL).Get("/accounts/A-123").
			MatchHeader("Authorization", "Basic c2tfdGVzdDo=").
			Reply(200).
			JSON(account())
	})

	AfterEach(func() {
		gock.RestoreClient(client.HTTPClient())
		gock.OffAll()
	})

	It("reports meters, expanded prices and paginated consumption", func() {
		gock.New(apiURL).Get("/products/VAR-22-11-01/electricity-tariffs/E-1R-VAR-22-11-01-A/standard-unit-rates").
			MatchParam("period_from", "2024-03-09T12:00:00Z").
			Reply(200).
			JSON(map[string]any{"results": []map[string]any{{
				"value_exc_vat": 24.5, "value_inc_vat": 25.725,
				"valid_from": "2024-03-10T11:00:00Z", "valid_to": "2024-03-10T11:30:00Z",
				"payment_method": "DIRECT_DEBIT",
			}}})
		gock.New(apiURL).Get("/products/VAR-22-11-01/electricity-tariffs/E-1R-VAR-22-11-01-A/standing-charges").
			Reply(200).
			JSON(map[string]any{"results": []map[string]any{{
				"value_exc_vat": 40.0, "value_inc_vat": 42.0,
				"valid_from": "2023-04-01T00:00:00Z", "valid_to": nil, "payment_method": nil,
			}}})
		gock.New(apiURL).Get("/electricity-meter-points/1900000000000/meters/S1/consumption").
			MatchParam("period_from", "2024-03-08T12:00:00Z").
			Reply(200).
			JSON(map[string]any{
				"next":    apiURL + "/electricity-meter-points/1900000000000/meters/S1/consumption?page=2",
				"results": []map[string]any{{"consumption": 0.25, "interval_end": "2024-03-10T01:00:00+01:00"}},
			})
		gock.New(apiURL).Get("/electricity-meter-points/1900000000000/meters/S1/consumption").
			MatchParam("page", "2").
			Reply(200).
			JSON(map[string]any{"results": []map[string]any{{"consumption": 0.5, "interval_end": "2024-03-10T00:30:00Z"}}})

		points, err := octopus.NewEnergyCollector(cfg, client, zap.NewNop().Sugar(), clock).Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(gock.IsDone()).To(BeTrue())

		byMeasurement := map[string][]lineprotocol.Point{}
		for _, p := range points {
			byMeasurement[p.Measurement] = append(byMeasurement[p.Measurement], p)
		}

		Expect(byMeasurement["octopus_meter"]).To(HaveLen(1))
		Expect(byMeasurement["octopus_meter"][0].Tags).To(Equal(map[string]string{
			"mpan": "1900000000000", "property": "42", "account": "A-123", "region_code": "A",
		}))

		Expect(byMeasurement["octopus_pricing"]).To(HaveLen(1 + 48))

		consumption := byMeasurement["octopus_consumption"]
		Expect(consumption).To(HaveLen(2))
		Expect(consumption[0].Tags).To(HaveKeyWithValue("meter_serial", "S1"))
		Expect(consumption[0].Time).To(BeTemporally("==", at("2024-03-10T00:00:00Z")))
	})

	It("reports a failing meter but keeps the meter point", func() {
		gock.New(apiURL).Get("/products/").Reply(500)

		points, err := octopus.NewEnergyCollector(cfg, client, zap.NewNop().Sugar(), clock).Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("unit rates")))
		Expect(points).To(HaveLen(1))
		Expect(points[0].Measurement).To(Equal("octopus_meter"))
	})

	It("reports unit rates without timestamps", func() {
		gock.New(apiURL).Get("/products/VAR-22-11-01/electricity-tariffs/E-1R-VAR-22-11-01-A/standard-unit-rates").
			Reply(200).
			JSON(map[string]any{"results": []map[string]any{
				{"value_exc_vat": 24.5, "value_inc_vat": 25.725, "valid_from": "2024-03-10T11:00:00Z", "valid_to": "2024-03-10T11:30:00Z"},
				{"value_exc_vat": 20.0, "value_inc_vat": 21.0, "valid_from": "2024-03-10T11:30:00Z", "valid_to": "2024-03-10T12:00:00Z"},
			}})

		points, err := octopus.NewTariffsCollector(cfg, client, zap.NewNop().Sugar(), clock).Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(2))
		Expect(points[0].Time.IsZero()).To(BeTrue())
		Expect(points[1].Fields).To(HaveKeyWithValue("cost_inc_vat", 21.0))
	})
})
