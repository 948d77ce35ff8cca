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

package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/logger"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/metrics"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/output"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/sentry"
)

// DefaultTimeout bounds a whole run. Telegraf kills exec plugins after its
// own timeout (5s by default), so plugins that need longer must be
// configured with a matching timeout on both sides.
const DefaultTimeout = 60 * time.Second

// Options are the flags shared by all plugins.
type Options struct {
	LogLevel   string
	LogFormat  string
	EnvFile    string
	ConfigFile string
	Output     string
	Timeout    time.Duration

	// Stdout replaces os.Stdout for the stdout sink.
	Stdout io.Writer
	// Now replaces time.Now for collectors.
	Now func() time.Time
	// HTTPOptions are appended to the client options, e.g. a retry policy.
	HTTPOptions []httpclient.Option
}

// Command builds the cobra command for def.
func Command(def Definition, version string) *cobra.Command {
	opts := Options{}

	args := def.Args
	if args == nil {
		args = cobra.NoArgs
	}

	cmd := &cobra.Command{
		Use:           def.Name,
		Short:         def.Short,
		Long:          def.Long,
		Version:       version,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), def, version, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR), defaults to $LOGGING_LEVEL")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (CONSOLE, JSON), defaults to $LOGGING_FORMAT")
	flags.StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load before reading the configuration")
	flags.StringVar(&opts.ConfigFile, "config", "", "YAML file mapping environment variable names to values")
	flags.StringVar(&opts.Output, "output", "", "output sink (stdout, influxdb, mqtt, kafka), defaults to $OUTPUT")
	flags.DurationVar(&opts.Timeout, "timeout", DefaultTimeout, "timeout for the whole run")

	return cmd
}

// Main runs def as the process entry point and exits non-zero on failure.
func Main(def Definition, version string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := Command(def, version).ExecuteContext(ctx)

	stop()

	if err != nil {
		logger.For(def.Name).Errorf("%s failed: %s", def.Name, err)
		logger.Sync()
		os.Exit(1)
	}

	logger.Sync()
}

// Run executes one collection cycle.
func Run(ctx context.Context, def Definition, version string, args []string, opts Options) (err error) {
	started := time.Now()

	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return err
	}

	if err := LoadConfigFile(opts.ConfigFile); err != nil {
		return err
	}

	logger.Initialize(opts.LogLevel, opts.LogFormat)
	log := logger.For(def.Name)

	sentry.InitSentry(os.Getenv("SENTRY_DSN"), def.Name, version, logger.For(logger.ComponentSentry))

	defer sentry.Flush(2 * time.Second)

	recorder := metrics.NewRecorder(def.Name)

	insecure, err := env.GetAsBool("HTTP_INSECURE_TLS", false, false)
	if err != nil {
		return err
	}

	httpOpts := append([]httpclient.Option{
		httpclient.WithUserAgent(fmt.Sprintf("%s/%s (telegraf exec plugin)", def.Name, version)),
		httpclient.WithObserver(recorder),
		httpclient.WithLogger(logger.For(logger.ComponentHTTPClient)),
		httpclient.WithInsecureTLS(insecure),
	}, opts.HTTPOptions...)
	client := httpclient.New(httpOpts...)

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	defer func() {
		recorder.Finish(started, time.Now(), err == nil)
		pushMetrics(recorder, client, logger.For(logger.ComponentMetrics))
	}()

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	collector, err := def.Build(Environment{Name: def.Name, Args: args, HTTP: client, Log: log, Now: now})
	if err != nil {
		recorder.IncError("config")

		return fmt.Errorf("configuration: %w", err)
	}

	points, collectErr := collector.Collect(ctx)
	if collectErr != nil {
		recorder.IncError("collect")
		sentry.ReportError(collectErr, "collect")
	}

	batch, encodeErr := lineprotocol.Encode(points)
	if encodeErr != nil {
		recorder.IncError("encode")
		log.Warnf("Skipped points that could not be encoded: %s", encodeErr)
	}

	batch = lineprotocol.Dedupe(batch)

	sinkErr := write(ctx, def, opts, client, batch)
	if sinkErr != nil {
		recorder.IncError("output")
		sentry.ReportError(sinkErr, "output")
	} else {
		recorder.AddPoints(bytes.Count(batch, []byte{'\n'}))
	}

	log.Debugf("Collected %d points in %s", len(points), time.Since(started))

	return errors.Join(collectErr, sinkErr)
}

func write(ctx context.Context, def Definition, opts Options, client *httpclient.Client, batch []byte) error {
	kind := opts.Output
	if kind == "" {
		kind = env.GetFirst(def.DefaultOutput, "OUTPUT")
	}

	var (
		sink output.Sink
		err  error
	)

	if kind == "" || kind == output.KindStdout {
		sink = output.NewStdoutSink(opts.Stdout)
	} else {
		sink, err = output.New(kind, def.Name, client, logger.For(logger.ComponentOutput))
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}

	writeErr := sink.Write(ctx, batch)
	closeErr := sink.Close()

	return errors.Join(writeErr, closeErr)
}

func pushMetrics(recorder *metrics.Recorder, client *httpclient.Client, log *zap.SugaredLogger) {
	url := os.Getenv("PROMETHEUS_PUSHGATEWAY_URL")
	if url == "" {
		return
	}

	// the run context may already be expired, pushing gets its own deadline
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := recorder.Push(ctx, url, client.HTTPClient()); err != nil {
		log.Warnf("Failed to push run metrics: %s", err)
	}
}
