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

// Package tor reports the state of a local Tor daemon read from its control
// port.
package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const DefaultMeasurement = "tor"

const (
	accountingTimeLayout = "2006-01-02 15:04:05"
	currentTimeLayout    = "2006-01-02T15:04:05"
)

// Config of the collector.
type Config struct {
	Host        string
	Port        int
	Password    string
	CookieFile  string
	Measurement string
}

// ConfigFromEnv reads CONTROL_* variables and MEASUREMENT.
func ConfigFromEnv() (Config, error) {
	port, err := env.GetAsInt("CONTROL_PORT", false, 9051)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Host:        env.GetFirst("127.0.0.1", "CONTROL_HOST"),
		Port:        port,
		Password:    env.GetFirst("", "CONTROL_AUTH"),
		CookieFile:  env.GetFirst("", "CONTROL_COOKIE_FILE"),
		Measurement: env.GetFirst(DefaultMeasurement, "MEASUREMENT"),
	}, nil
}

type stat struct {
	key   string
	name  string
	kind  string
	asTag bool
}

var stats = []stat{
	{"traffic/read", "bytes_rx", "int", false},
	{"traffic/written", "bytes_tx", "int", false},
	{"uptime", "uptime", "int", false},
	{"version", "tor_version", "string", false},
	{"dormant", "dormant", "int", false},
	{"status/reachability-succeeded/or", "orport_reachability", "int", false},
	{"status/reachability-succeeded/dir", "dirport_reachability", "int", false},
	{"status/version/current", "version_status", "string", true},
	{"network-liveness", "network_liveness", "string", true},
}

// GuardStates are the entry guard states Tor reports.
var GuardStates = []string{"never-connected", "down", "up", "unusable", "unlisted"}

// Collector polls the control port.
type Collector struct {
	cfg  Config
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
	log  *zap.SugaredLogger
}

// New returns a Collector. dial may be nil to use a plain TCP dialer.
func New(cfg Config, dial func(ctx context.Context, network, addr string) (net.Conn, error), log *zap.SugaredLogger) *Collector {
	return &Collector{cfg: cfg, dial: dial, log: log}
}

// Collect always returns one point. When the control port cannot be reached
// or refuses the credentials the point carries the failure and an error is
// returned as well.
func (c *Collector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	p := lineprotocol.NewPoint(c.cfg.Measurement, lineprotocol.NoTimestamp).
		Tag("controlport_connection", "failed")

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	conn, err := Dial(ctx, c.dial, addr)
	if err != nil {
		p.Tag("failure_type", "connection").Field("stats_fetch_failures", 1)

		return []lineprotocol.Point{p}, fmt.Errorf("connecting to control port %s: %w", addr, err)
	}

	defer func() {
		_ = conn.Close()
	}()

	var cookie []byte
	if c.cfg.CookieFile != "" {
		if cookie, err = os.ReadFile(c.cfg.CookieFile); err != nil {
			p.Tag("failure_type", "authentication").Field("stats_fetch_failures", 1)

			return []lineprotocol.Point{p}, fmt.Errorf("reading cookie file: %w", err)
		}
	}

	if err := conn.Authenticate(c.cfg.Password, cookie); err != nil {
		p.Tag("failure_type", "authentication").Field("stats_fetch_failures", 1)

		return []lineprotocol.Point{p}, fmt.Errorf("authenticating: %w", err)
	}

	p.Tag("controlport_connection", "success")

	failures := 0

	for _, s := range stats {
		value, err := conn.GetInfo(s.key)
		if err != nil {
			c.log.Debugf("GETINFO %s failed: %s", s.key, err)

			failures++

			continue
		}

		switch {
		case s.asTag:
			p.Tag(s.name, value)
		case s.kind == "int":
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				failures++

				continue
			}

			p.Field(s.name, n)
		default:
			p.Field(s.name, value)
		}
	}

	p.Field("stats_fetch_failures", failures)

	if guards, err := conn.GetInfo("entry-guards"); err != nil {
		c.log.Warnf("Failed to get guard info: %s", err)
	} else {
		for name, n := range GuardCounts(guards) {
			p.Field("guards_"+strings.ReplaceAll(name, "-", "_"), n)
		}
	}

	if policy, err := conn.GetInfo("exit-policy/full"); err != nil {
		c.log.Debugf("No exit policy: %s", err)
	} else {
		for name, n := range ExitPolicyCounts(policy) {
			p.Field(name, n)
		}
	}

	if err := c.accounting(conn, p); err != nil {
		c.log.Warnf("Failed to get accounting info: %s", err)
	}

	return []lineprotocol.Point{p}, nil
}

// GuardCounts counts entry guards per state from lines like
// "$FINGERPRINT~nickname up". Every known state is present, unknown states
// only count towards the total.
func GuardCounts(info string) map[string]int {
	counts := map[string]int{"total": 0}
	for _, s := range GuardStates {
		counts[s] = 0
	}

	for _, line := range strings.Split(info, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		if _, known := counts[parts[1]]; known && parts[1] != "total" {
			counts[parts[1]]++
		}

		counts["total"]++
	}

	return counts
}

// ExitPolicyCounts counts the accept and reject rules of a full exit
// policy. A relay with any accept rule is an exit relay.
func ExitPolicyCounts(policy string) map[string]int {
	accept, reject := 0, 0

	for _, rule := range strings.FieldsFunc(policy, func(r rune) bool { return r == '\n' || r == ',' }) {
		action, _, _ := strings.Cut(strings.TrimSpace(rule), " ")

		switch action {
		case "accept", "accept6":
			accept++
		case "reject", "reject6":
			reject++
		}
	}

	exit := 0
	if accept > 0 {
		exit = 1
	}

	return map[string]int{
		"exit_policy_accept": accept,
		"exit_policy_reject": reject,
		"exit_policy_total":  accept + reject,
		"exit_relay":         exit,
	}
}

func (c *Collector) accounting(conn *Conn, p lineprotocol.Point) error {
	enabled, err := conn.GetInfo("accounting/enabled")
	if err != nil {
		return err
	}

	if strings.TrimSpace(enabled) != "1" {
		p.Tag("accounting_enabled", "0")

		return nil
	}

	p.Tag("accounting_enabled", "1")

	var errs []error

	if state, err := conn.GetInfo("accounting/hibernating"); err == nil {
		p.Tag("accounting_hibernating_state", state)
	} else {
		errs = append(errs, err)
	}

	for key, name := range map[string]string{
		"accounting/bytes":      "accounting_bytes",
		"accounting/bytes-left": "accounting_bytes_remaining",
	} {
		value, err := conn.GetInfo(key)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		read, write, err := parseReadWrite(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))

			continue
		}

		p.Field(name+"_read", read).Field(name+"_write", write)
	}

	period, err := accountingPeriod(conn)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}

	p.Field("accounting_period_seconds_elapsed", int64(period.elapsed.Seconds())).
		Field("accounting_period_seconds_remaining", int64(period.remaining.Seconds())).
		Field("accounting_period_length", int64(period.length.Seconds()))

	return errors.Join(errs...)
}

func parseReadWrite(value string) (int64, int64, error) {
	cols := strings.Fields(value)
	if len(cols) != 2 {
		return 0, 0, fmt.Errorf("expected read and write values, got %q", value)
	}

	read, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}

	write, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}

	return read, write, nil
}

type period struct {
	elapsed, remaining, length time.Duration
}

func accountingPeriod(conn *Conn) (period, error) {
	var times [3]time.Time

	for i, q := range []struct{ key, layout string }{
		{"current-time/utc", currentTimeLayout},
		{"accounting/interval-start", accountingTimeLayout},
		{"accounting/interval-end", accountingTimeLayout},
	} {
		value, err := conn.GetInfo(q.key)
		if err != nil {
			return period{}, err
		}

		t, err := time.Parse(q.layout, strings.TrimSpace(value))
		if err != nil {
			return period{}, fmt.Errorf("%s: %w", q.key, err)
		}

		times[i] = t
	}

	now, start, end := times[0], times[1], times[2]

	return period{elapsed: now.Sub(start), remaining: end.Sub(now), length: end.Sub(start)}, nil
}

// Definition of the tor-daemon binary.
var Definition = plugin.Definition{
	Name:  "tor-daemon",
	Short: "Report Tor daemon statistics from the control port as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) {
		cfg, err := ConfigFromEnv()
		if err != nil {
			return nil, err
		}

		return New(cfg, nil, e.Log), nil
	},
}
