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

// Package plugin is the runner shared by every exec plugin binary. A run
// loads configuration, builds the plugin's Collector, collects once, encodes
// the points as line protocol and hands them to the output sink.
package plugin

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
)

// Collector fetches from one service and returns the points to emit.
//
// A Collector may return points together with an error. The points are still
// written and the process exits non-zero afterwards.
type Collector interface {
	Collect(ctx context.Context) ([]lineprotocol.Point, error)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context) ([]lineprotocol.Point, error)

// Collect calls f.
func (f CollectorFunc) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	return f(ctx)
}

// Environment is what a plugin gets to build its Collector.
type Environment struct {
	Name string
	// Args are the positional command line arguments.
	Args []string
	HTTP *httpclient.Client
	Log  *zap.SugaredLogger
	Now  func() time.Time
}

// Definition describes one plugin binary.
type Definition struct {
	Name  string
	Short string
	Long  string
	// DefaultOutput is the sink used when neither --output nor OUTPUT is set.
	DefaultOutput string
	// Args validates positional arguments, cobra.NoArgs when nil.
	Args cobra.PositionalArgs
	// Build reads the plugin configuration and returns its Collector.
	Build func(env Environment) (Collector, error)
}
