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

// Package metrics records how a plugin run went. A run lives for a few
// seconds, so instead of serving /metrics the recorder pushes to a
// Prometheus Pushgateway once the run is over.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	namespace = "telegraf"
	subsystem = "exec_plugin"
)

// JobName groups all plugins on the Pushgateway.
const JobName = "telegraf_exec_plugins"

// Stages a run can fail in.
var Stages = []string{"config", "collect", "encode", "output"}

// Recorder holds the metrics of one run on a private registry.
type Recorder struct {
	plugin   string
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	points       prometheus.Counter
	runErrors    *prometheus.CounterVec
	runDuration  prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewRecorder creates a recorder for plugin.
func NewRecorder(plugin string) *Recorder {
	r := &Recorder{
		plugin:   plugin,
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests sent to the polled service by host and status code (0 = no response)",
			},
			[]string{"host", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests to the polled service",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"host"},
		),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "points_total",
			Help:      "Line protocol points written by the run",
		}),
		runErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Errors during the run by stage",
			},
			[]string{"stage"},
		),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without error",
		}),
	}

	// a push only replaces families it carries, so every stage starts at zero
	for _, stage := range Stages {
		r.runErrors.WithLabelValues(stage)
	}

	// lastSuccess is registered by Finish so a failed run never pushes it
	r.registry.MustRegister(r.httpRequests, r.httpDuration, r.points, r.runErrors, r.runDuration)

	return r
}

// ObserveRequest implements httpclient.Observer.
func (r *Recorder) ObserveRequest(host string, code int, duration time.Duration) {
	r.httpRequests.WithLabelValues(host, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// AddPoints counts written points.
func (r *Recorder) AddPoints(n int) {
	r.points.Add(float64(n))
}

// IncError counts an error in one of Stages.
func (r *Recorder) IncError(stage string) {
	r.runErrors.WithLabelValues(stage).Inc()
}

// Finish records the run duration and, when ok, the success timestamp.
func (r *Recorder) Finish(started, now time.Time, ok bool) {
	r.runDuration.Set(now.Sub(started).Seconds())

	if ok {
		r.lastSuccess.Set(float64(now.Unix()))
		_ = r.registry.Register(r.lastSuccess)
	}
}

// Registry exposes the registry for tests and custom gatherers.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Push sends all metrics to the Pushgateway at url, grouped by plugin.
func (r *Recorder) Push(ctx context.Context, url string, client push.HTTPDoer) error {
	pusher := push.New(url, JobName).
		Gatherer(r.registry).
		Grouping("plugin", r.plugin)

	if client != nil {
		pusher = pusher.Client(client)
	}

	// Add only replaces metrics with the same name, so the last success of an
	// earlier run survives a failed one
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}

	return nil
}
