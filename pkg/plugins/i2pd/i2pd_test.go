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

package i2pd_test

import (
	"context"
	"strings"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/backoff"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugins/i2pd"
)

const console = "http://i2pd.test:7070"

const page = `<html><body><div class="content">
<b>Uptime:</b> 1 days, 2 hours, 3 minutes, 4 seconds<br>
<b>Network status:</b> OK<br>
<b>Tunnel creation success rate:</b> 38%<br>
<b>Received:</b> 1,024.5 MiB (12.5 KiB/s)<br>
<b>Sent:</b> 2 GiB (1 KiB/s)<br>
<b>Transit:</b> 512 KiB (0 KiB/s)<br>
<b>Routers:</b> 2123 <b>Floodfills:</b> 500 <b>LeaseSets:</b> 0<br>
<b>Client Tunnels:</b> 20 <b>Transit Tunnels:</b> 36<br>
</div></body></html>`

var _ = Describe("Parsers", func() {
	DescribeTable("ParseUptime",
		func(in string, want int64) {
			Expect(i2pd.ParseUptime(in)).To(Equal(want))
		},
		Entry("all units", "1 days, 2 hours, 3 minutes, 4 seconds", int64(93784)),
		Entry("singular units", "1 hour, 1 minute, 1 second", int64(3661)),
		Entry("seconds only", "42 seconds", int64(42)),
		Entry("nothing", "", int64(0)),
	)

	DescribeTable("ParsePercentage",
		func(in string, want int64) {
			Expect(i2pd.ParsePercentage(in)).To(Equal(want))
		},
		Entry("integer", "38%", int64(38)),
		Entry("decimal", "38.5 %", int64(38)),
		Entry("missing", "n/a", int64(0)),
	)

	DescribeTable("ParseTraffic",
		func(in string, volume int64, bps float64) {
			v, b := i2pd.ParseTraffic(in)
			Expect(v).To(Equal(volume))
			Expect(b).To(Equal(bps))
		},
		Entry("KiB", "512 KiB (0.5 KiB/s)", int64(512*1024), 4096.0),
		Entry("MiB with separators", "1,024.5 MiB (12.5 KiB/s)", int64(1024.5*1024*1024), 102400.0),
		Entry("GiB", "2 GiB (1 KiB/s)", int64(2<<30), 8192.0),
		Entry("no throughput", "3 MiB", int64(3<<20), 0.0),
	)
})

var _ = Describe("Segments", func() {
	It("splits labels that share a line", func() {
		segments, err := i2pd.Segments(strings.NewReader(page))
		Expect(err).NotTo(HaveOccurred())
		Expect(segments).To(HaveKeyWithValue("Routers", "2123"))
		Expect(segments).To(HaveKeyWithValue("Floodfills", "500"))
		Expect(segments).To(HaveKeyWithValue("Received", "1,024.5 MiB (12.5 KiB/s)"))
		Expect(segments).To(HaveKeyWithValue("Network status", "OK"))
	})
})

var _ = Describe("Collector", func() {
	var client *httpclient.Client

	BeforeEach(func() {
		client = httpclient.New(httpclient.WithRetryPolicy(backoff.NoRetry))
		gock.InterceptClient(client.HTTPClient())
	})

	AfterEach(func() {
		gock.RestoreClient(client.HTTPClient())
		gock.OffAll()
	})

	It("reports every statistic of the console", func() {
		gock.New(console).Get("/").Reply(200).BodyString(page)

		points, err := i2pd.New(i2pd.Config{Console: console, Measurement: "i2pd"}, client).Collect(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(points).To(HaveLen(1))

		p := points[0]
		Expect(p.Tags).To(Equal(map[string]string{"url": console, "network_status": "OK"}))
		Expect(p.Fields).To(HaveKeyWithValue("uptime", int64(93784)))
		Expect(p.Fields).To(HaveKeyWithValue("tunnel_creation_success_rate", int64(38)))
		Expect(p.Fields).To(HaveKeyWithValue("out_bytes", int64(2<<30)))
		Expect(p.Fields).To(HaveKeyWithValue("transit_bytes", int64(512*1024)))
		Expect(p.Fields).To(HaveKeyWithValue("leasesets", int64(0)))
		Expect(p.Fields).To(HaveKeyWithValue("transit_tunnels", int64(36)))
		Expect(p.Time.IsZero()).To(BeTrue())
	})

	It("fails on a page without statistics", func() {
		gock.New(console).Get("/").Reply(200).BodyString("<html>login</html>")

		_, err := i2pd.New(i2pd.Config{Console: console, Measurement: "i2pd"}, client).Collect(context.Background())
		Expect(err).To(MatchError(ContainSubstring("no statistics")))
	})
})
