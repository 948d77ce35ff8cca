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

// Package output delivers encoded line protocol. Standard output is what a
// metrics agent expects from an exec plugin; the other sinks let a plugin be
// run from cron and write straight to a database or broker.
package output

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
)

// Kinds of sinks.
const (
	KindStdout   = "stdout"
	KindInfluxDB = "influxdb"
	KindMQTT     = "mqtt"
	KindKafka    = "kafka"
)

// Sink receives a batch of newline terminated lines.
type Sink interface {
	Write(ctx context.Context, batch []byte) error
	Close() error
}

// New builds the sink of the given kind, reading its settings from the
// environment.
func New(kind, plugin string, client *httpclient.Client, log *zap.SugaredLogger) (Sink, error) {
	switch strings.ToLower(kind) {
	case "", KindStdout:
		return NewStdoutSink(nil), nil
	case KindInfluxDB:
		cfg, err := InfluxDBConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return NewInfluxDBSink(cfg, client), nil
	case KindMQTT:
		cfg, err := MQTTConfigFromEnv(plugin)
		if err != nil {
			return nil, err
		}

		return DialMQTT(cfg, log)
	case KindKafka:
		cfg, err := KafkaConfigFromEnv(plugin)
		if err != nil {
			return nil, err
		}

		return DialKafka(cfg, log)
	default:
		return nil, fmt.Errorf("unknown output %q (want %s, %s, %s or %s)", kind, KindStdout, KindInfluxDB, KindMQTT, KindKafka)
	}
}

// splitLines returns the non-empty lines of batch.
func splitLines(batch []byte) [][]byte {
	var lines [][]byte

	for _, line := range bytes.Split(batch, []byte{'\n'}) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}

	return lines
}

// measurementOf returns the unescaped measurement of a line.
func measurementOf(line []byte) string {
	var b strings.Builder

	for i := 0; i < len(line); i++ {
		switch c := line[i]; c {
		case '\\':
			if i+1 < len(line) {
				i++
				b.WriteByte(line[i])
			}
		case ',', ' ':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
