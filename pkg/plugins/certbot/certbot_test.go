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

package certbot_test

import (
	"bytes"
	"context"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/certbot"
)

var now = time.Unix(1650000000, 0)

var _ = Describe("Points", func() {
	It("reports the total and every domain", func() {
		points := certbot.Points(certbot.Config{
			Domains:     []string{"example.com", "www.example.com"},
			Measurement: "certbot_renewal",
			Host:        "web1",
		}, now)

		out, err := lineprotocol.Encode(points)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(Equal(
			"certbot_renewal,domain=all,host=web1 renewed_count=2i 1650000000000000000\n" +
				"certbot_renewal,domain=example.com,host=web1 renewed_count=1i 1650000000000000000\n" +
				"certbot_renewal,domain=www.example.com,host=web1 renewed_count=1i 1650000000000000000\n",
		))
	})
})

var _ = Describe("ConfigFromEnv", func() {
	It("requires renewed domains", func() {
		GinkgoT().Setenv("RENEWED_DOMAINS", "  ")

		_, err := certbot.ConfigFromEnv()
		Expect(err).To(MatchError(ContainSubstring("deploy hook")))
	})

	It("falls back to the OS hostname", func() {
		GinkgoT().Setenv("RENEWED_DOMAINS", "example.com")
		GinkgoT().Setenv("HOSTNAME", "")

		cfg, err := certbot.ConfigFromEnv()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Host).NotTo(BeEmpty())
		Expect(cfg.Domains).To(Equal([]string{"example.com"}))
	})
})

var _ = Describe("Definition", func() {
	AfterEach(func() {
		gock.Off()
	})

	It("writes to InfluxDB by default", func() {
		GinkgoT().Setenv("RENEWED_DOMAINS", "example.com")
		GinkgoT().Setenv("HOSTNAME", "web1")
		GinkgoT().Setenv("OUTPUT", "")
		GinkgoT().Setenv("INFLUXDB_URL", "http://influx.test:8086")
		GinkgoT().Setenv("INFLUXDB_TOKEN", "tok")
		GinkgoT().Setenv("INFLUXDB_VERSION", "2")
		GinkgoT().Setenv("INFLUXDB_BUCKET", "certs")

		gock.New("http://influx.test:8086").
			Post("/api/v2/write").
			MatchParam("bucket", "certs").
			MatchHeader("Authorization", "Token tok").
			Reply(204)

		var stdout bytes.Buffer

		err := plugin.Run(context.Background(), certbot.Definition, "1.0.0", nil, plugin.Options{
			Stdout: &stdout,
			Now:    func() time.Time { return now },
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(gock.IsDone()).To(BeTrue())
		Expect(stdout.Len()).To(BeZero())
	})
})
