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

package plugin_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

func staticDefinition(points []lineprotocol.Point, collectErr error) plugin.Definition {
	return plugin.Definition{
		Name: "test-plugin",
		Build: func(env plugin.Environment) (plugin.Collector, error) {
			return plugin.CollectorFunc(func(context.Context) ([]lineprotocol.Point, error) {
				return points, collectErr
			}), nil
		},
	}
}

var _ = Describe("Run", func() {
	var (
		stdout bytes.Buffer
		opts   plugin.Options
	)

	BeforeEach(func() {
		stdout.Reset()
		opts = plugin.Options{Stdout: &stdout, Output: "stdout", Timeout: 5 * time.Second}
	})

	It("writes encoded points to stdout", func() {
		points := []lineprotocol.Point{
			lineprotocol.NewPoint("m", time.Unix(1, 0)).Tag("host", "a").Field("v", 1),
			lineprotocol.NewPoint("m", time.Unix(1, 0)).Tag("host", "a").Field("v", 1),
			lineprotocol.NewPoint("m", time.Unix(2, 0)).Tag("host", "a").Field("v", 2),
		}

		err := plugin.Run(context.Background(), staticDefinition(points, nil), "1.0.0", nil, opts)

		Expect(err).NotTo(HaveOccurred())
		Expect(stdout.String()).To(Equal("m,host=a v=1i 1000000000\nm,host=a v=2i 2000000000\n"))
	})

	It("still writes points when the collector reports an error", func() {
		points := []lineprotocol.Point{lineprotocol.NewPoint("tor", time.Time{}).Field("stats_fetch_failures", 1)}

		err := plugin.Run(context.Background(), staticDefinition(points, errors.New("control port unreachable")), "1.0.0", nil, opts)

		Expect(err).To(MatchError(ContainSubstring("control port unreachable")))
		Expect(stdout.String()).To(Equal("tor stats_fetch_failures=1i\n"))
	})

	It("skips points that cannot be encoded without failing the run", func() {
		points := []lineprotocol.Point{
			lineprotocol.NewPoint("m", time.Time{}).Field("v", math.NaN()),
			lineprotocol.NewPoint("m", time.Time{}).Field("v", 0.5),
		}

		err := plugin.Run(context.Background(), staticDefinition(points, nil), "1.0.0", nil, opts)

		Expect(err).NotTo(HaveOccurred())
		Expect(stdout.String()).To(Equal("m v=0.5\n"))
	})

	It("fails on configuration errors without output", func() {
		def := plugin.Definition{
			Name: "test-plugin",
			Build: func(plugin.Environment) (plugin.Collector, error) {
				return nil, errors.New("HIBP_TOKEN is required")
			},
		}

		err := plugin.Run(context.Background(), def, "1.0.0", nil, opts)

		Expect(err).To(MatchError(ContainSubstring("configuration")))
		Expect(stdout.Len()).To(BeZero())
	})

	It("passes arguments and the clock to the plugin", func() {
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		opts.Now = func() time.Time { return fixed }

		def := plugin.Definition{
			Name: "test-plugin",
			Build: func(env plugin.Environment) (plugin.Collector, error) {
				Expect(env.Args).To(Equal([]string{"token"}))
				Expect(env.HTTP).NotTo(BeNil())

				return plugin.CollectorFunc(func(context.Context) ([]lineprotocol.Point, error) {
					return []lineprotocol.Point{lineprotocol.NewPoint("m", env.Now()).Field("v", true)}, nil
				}), nil
			},
		}

		Expect(plugin.Run(context.Background(), def, "1.0.0", []string{"token"}, opts)).To(Succeed())
		Expect(stdout.String()).To(Equal("m v=true 1704164645000000000\n"))
	})

	It("rejects unknown outputs", func() {
		opts.Output = "fax"

		err := plugin.Run(context.Background(), staticDefinition(nil, nil), "1.0.0", nil, opts)
		Expect(err).To(MatchError(ContainSubstring("unknown output")))
	})

	It("loads the YAML config file without overriding the environment", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "plugin.yaml")
		Expect(os.WriteFile(path, []byte("TEST_RUNNER_TOKEN: from-file\nTEST_RUNNER_LIST: [a, b]\nTEST_RUNNER_KEEP: file\n"), 0o600)).To(Succeed())

		GinkgoT().Setenv("TEST_RUNNER_KEEP", "env")
		DeferCleanup(os.Unsetenv, "TEST_RUNNER_TOKEN")
		DeferCleanup(os.Unsetenv, "TEST_RUNNER_LIST")

		opts.ConfigFile = path
		Expect(plugin.Run(context.Background(), staticDefinition(nil, nil), "1.0.0", nil, opts)).To(Succeed())

		Expect(os.Getenv("TEST_RUNNER_TOKEN")).To(Equal("from-file"))
		Expect(os.Getenv("TEST_RUNNER_LIST")).To(Equal("a,b"))
		Expect(os.Getenv("TEST_RUNNER_KEEP")).To(Equal("env"))
	})

	It("loads dotenv files", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, ".env")
		Expect(os.WriteFile(path, []byte("TEST_RUNNER_DOTENV=yes\n"), 0o600)).To(Succeed())
		DeferCleanup(os.Unsetenv, "TEST_RUNNER_DOTENV")

		opts.EnvFile = path
		Expect(plugin.Run(context.Background(), staticDefinition(nil, nil), "1.0.0", nil, opts)).To(Succeed())
		Expect(os.Getenv("TEST_RUNNER_DOTENV")).To(Equal("yes"))
	})

	It("reports a missing config file", func() {
		opts.ConfigFile = "/nonexistent/plugin.yaml"
		Expect(plugin.Run(context.Background(), staticDefinition(nil, nil), "1.0.0", nil, opts)).NotTo(Succeed())
	})

	Context("with a Pushgateway", func() {
		AfterEach(func() {
			gock.Off()
		})

		It("pushes the run metrics", func() {
			GinkgoT().Setenv("PROMETHEUS_PUSHGATEWAY_URL", "http://pushgateway:9091")
			gock.New("http://pushgateway:9091").
				Post("/metrics/job/telegraf_exec_plugins/plugin/test-plugin").
				Reply(200)

			points := []lineprotocol.Point{lineprotocol.NewPoint("m", time.Time{}).Field("v", 1)}
			Expect(plugin.Run(context.Background(), staticDefinition(points, nil), "1.0.0", nil, opts)).To(Succeed())
			Expect(gock.IsDone()).To(BeTrue())
		})
	})
})

var _ = Describe("Command", func() {
	It("rejects positional arguments unless allowed", func() {
		cmd := plugin.Command(staticDefinition(nil, nil), "1.0.0")
		cmd.SetArgs([]string{"unexpected"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})

		Expect(cmd.ExecuteContext(context.Background())).NotTo(Succeed())
	})

	It("registers the shared flags", func() {
		cmd := plugin.Command(staticDefinition(nil, nil), "1.0.0")

		for _, name := range []string{"log-level", "log-format", "env-file", "config", "output", "timeout"} {
			Expect(cmd.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})
})
