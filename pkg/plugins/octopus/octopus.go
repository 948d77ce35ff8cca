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

// Package octopus reports meters, prices and consumption of an Octopus
// Energy account.
package octopus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/env"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/lineprotocol"
	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/plugin"
)

const (
	DefaultAPIURL = "https://api.octopus.energy/v1"

	ChargeUsage    = "usage-charge"
	ChargeStanding = "standing-charge"

	// SlotLength is the settlement period prices are expanded to.
	SlotLength = 30 * time.Minute

	pricingWindow     = 24 * time.Hour
	consumptionWindow = 48 * time.Hour
)

// Config of both collectors.
type Config struct {
	Key     string
	Account string
	APIURL  string
}

// ConfigFromEnv reads OCTOPUS_* variables.
func ConfigFromEnv() (Config, error) {
	key, err := env.GetAsString("OCTOPUS_KEY", true, "")
	if err != nil {
		return Config{}, err
	}

	account, err := env.GetAsString("OCTOPUS_ACCOUNT", true, "")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Key:     key,
		Account: account,
		APIURL:  env.GetFirst(DefaultAPIURL, "OCTOPUS_API_URL"),
	}, nil
}

// Tariff is a tariff code split into its parts.
type Tariff struct {
	Code    string
	Product string
	Region  string
}

// ParseTariffCode splits a code like E-1R-VAR-22-11-01-A into the product
// VAR-22-11-01 and the region A.
func ParseTariffCode(code string) (Tariff, error) {
	parts := strings.Split(code, "-")
	if len(parts) < 4 {
		return Tariff{}, fmt.Errorf("malformed tariff code %q", code)
	}

	return Tariff{
		Code:    code,
		Product: strings.Join(parts[2:len(parts)-1], "-"),
		Region:  parts[len(parts)-1],
	}, nil
}

// MeterInfo is an electricity meter with the tariff that applies now.
type MeterInfo struct {
	Property  int64
	MovedInAt string
	MPAN      string
	Serial    string
	Tariff    Tariff
}

// ActiveAgreement returns the agreement valid at now, or the one that
// started last when none is.
func ActiveAgreement(agreements []Agreement, now time.Time) (Agreement, bool) {
	if len(agreements) == 0 {
		return Agreement{}, false
	}

	latest := agreements[0]

	for _, a := range agreements {
		if !a.ValidFrom.After(now) && (a.ValidTo == nil || now.Before(*a.ValidTo)) {
			return a, true
		}

		if a.ValidFrom.After(latest.ValidFrom) {
			latest = a
		}
	}

	return latest, true
}

// Meters walks the account down to every electricity meter. Meter points
// without an agreement or a meter are skipped.
func Meters(acc *Account, now time.Time, log *zap.SugaredLogger) []MeterInfo {
	var meters []MeterInfo

	for _, prop := range acc.Properties {
		for _, mp := range prop.ElectricityMeterPoints {
			agreement, ok := ActiveAgreement(mp.Agreements, now)
			if !ok || len(mp.Meters) == 0 {
				log.Warnf("Skipping meter point %s without meter or agreement", mp.MPAN)

				continue
			}

			tariff, err := ParseTariffCode(agreement.TariffCode)
			if err != nil {
				log.Warnf("Skipping meter point %s: %s", mp.MPAN, err)

				continue
			}

			meters = append(meters, MeterInfo{
				Property:  prop.ID,
				MovedInAt: prop.MovedInAt,
				MPAN:      mp.MPAN,
				// the last listed meter is the one currently installed
				Serial: mp.Meters[len(mp.Meters)-1].SerialNumber,
				Tariff: tariff,
			})
		}
	}

	return meters
}

// ExpandRate emits one point per settlement slot of r between the window
// start and the end of its validity. Open ended rates end at now. Slots
// stay aligned to valid_from.
func ExpandRate(r Rate, tariffCode, chargeType string, windowStart, now time.Time) []lineprotocol.Point {
	end := now
	if r.ValidTo != nil {
		end = *r.ValidTo
	}

	start := r.ValidFrom
	if start.Before(windowStart) {
		skipped := windowStart.Sub(start) / SlotLength
		if windowStart.Sub(start)%SlotLength != 0 {
			skipped++
		}

		start = start.Add(skipped * SlotLength)
	}

	var points []lineprotocol.Point

	for ts := start; ts.Before(end); ts = ts.Add(SlotLength) {
		points = append(points, pricePoint(r, tariffCode, chargeType, ts))
	}

	return points
}

func pricePoint(r Rate, tariffCode, chargeType string, ts time.Time) lineprotocol.Point {
	validTo := ""
	if r.ValidTo != nil {
		validTo = r.ValidTo.UTC().Format(time.RFC3339)
	}

	paymentMethod := ""
	if r.PaymentMethod != nil {
		paymentMethod = *r.PaymentMethod
	}

	return lineprotocol.NewPoint("octopus_pricing", ts).
		Tag("payment_method", paymentMethod).
		Tag("tariff_code", tariffCode).
		Tag("charge_type", chargeType).
		Field("cost_exc_vat", r.ValueExcVAT).
		Field("cost_inc_vat", r.ValueIncVAT).
		Field("valid_from", r.ValidFrom.UTC().Format(time.RFC3339)).
		Field("valid_to", validTo)
}

// MeterPointFor describes the meter itself.
func MeterPointFor(m MeterInfo, account string, now time.Time) lineprotocol.Point {
	return lineprotocol.NewPoint("octopus_meter", now).
		Tag("mpan", m.MPAN).
		Tag("property", strconv.FormatInt(m.Property, 10)).
		Tag("account", account).
		Tag("region_code", m.Tariff.Region).
		Field("start_date", m.MovedInAt)
}

// ConsumptionPoint is one interval, stamped at its end.
func ConsumptionPoint(m MeterInfo, c Consumption) lineprotocol.Point {
	return lineprotocol.NewPoint("octopus_consumption", c.IntervalEnd).
		Tag("mpan", m.MPAN).
		Tag("meter_serial", m.Serial).
		Tag("tariff_code", m.Tariff.Code).
		Field("consumption", c.Consumption)
}

// EnergyCollector reports meters, expanded prices and consumption.
type EnergyCollector struct {
	cfg Config
	api *API
	log *zap.SugaredLogger
	now func() time.Time
}

// NewEnergyCollector returns an EnergyCollector.
func NewEnergyCollector(cfg Config, client *httpclient.Client, log *zap.SugaredLogger, now func() time.Time) *EnergyCollector {
	return &EnergyCollector{cfg: cfg, api: NewAPI(cfg.APIURL, cfg.Key, client), log: log, now: now}
}

// Collect walks the account and fetches prices and consumption per meter.
// A meter whose data cannot be fetched is reported in the returned error,
// the other meters are still collected.
func (c *EnergyCollector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	acc, err := c.api.Account(ctx, c.cfg.Account)
	if err != nil {
		return nil, err
	}

	now := c.now()

	var (
		points []lineprotocol.Point
		errs   []error
	)

	for _, m := range Meters(acc, now, c.log) {
		points = append(points, MeterPointFor(m, c.cfg.Account, now))

		meterPoints, err := c.meter(ctx, m, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", m.MPAN, err))

			continue
		}

		points = append(points, meterPoints...)
	}

	return points, errors.Join(errs...)
}

func (c *EnergyCollector) meter(ctx context.Context, m MeterInfo, now time.Time) ([]lineprotocol.Point, error) {
	windowStart := now.Add(-pricingWindow)

	rates, err := c.api.UnitRates(ctx, m.Tariff, windowStart)
	if err != nil {
		return nil, fmt.Errorf("unit rates: %w", err)
	}

	charges, err := c.api.StandingCharges(ctx, m.Tariff, windowStart)
	if err != nil {
		return nil, fmt.Errorf("standing charges: %w", err)
	}

	consumption, err := c.api.Consumption(ctx, m.MPAN, m.Serial, now.Add(-consumptionWindow))
	if err != nil {
		return nil, fmt.Errorf("consumption: %w", err)
	}

	var points []lineprotocol.Point

	for _, r := range rates {
		points = append(points, ExpandRate(r, m.Tariff.Code, ChargeUsage, windowStart, now)...)
	}

	for _, r := range charges {
		points = append(points, ExpandRate(r, m.Tariff.Code, ChargeStanding, windowStart, now)...)
	}

	for _, usage := range consumption {
		points = append(points, ConsumptionPoint(m, usage))
	}

	return points, nil
}

// TariffsCollector reports the unit rates of every meter's tariff, one point
// per published rate without a timestamp.
type TariffsCollector struct {
	cfg Config
	api *API
	log *zap.SugaredLogger
	now func() time.Time
}

// NewTariffsCollector returns a TariffsCollector.
func NewTariffsCollector(cfg Config, client *httpclient.Client, log *zap.SugaredLogger, now func() time.Time) *TariffsCollector {
	return &TariffsCollector{cfg: cfg, api: NewAPI(cfg.APIURL, cfg.Key, client), log: log, now: now}
}

// Collect fetches the unit rates published since a day ago.
func (c *TariffsCollector) Collect(ctx context.Context) ([]lineprotocol.Point, error) {
	acc, err := c.api.Account(ctx, c.cfg.Account)
	if err != nil {
		return nil, err
	}

	now := c.now()
	seen := map[string]bool{}

	var (
		points []lineprotocol.Point
		errs   []error
	)

	for _, m := range Meters(acc, now, c.log) {
		if seen[m.Tariff.Code] {
			continue
		}

		seen[m.Tariff.Code] = true

		rates, err := c.api.UnitRates(ctx, m.Tariff, now.Add(-pricingWindow))
		if err != nil {
			errs = append(errs, fmt.Errorf("unit rates of %s: %w", m.Tariff.Code, err))

			continue
		}

		for _, r := range rates {
			points = append(points, pricePoint(r, m.Tariff.Code, ChargeUsage, lineprotocol.NoTimestamp))
		}
	}

	return points, errors.Join(errs...)
}

func build(e plugin.Environment, energy bool) (plugin.Collector, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	if energy {
		return NewEnergyCollector(cfg, e.HTTP, e.Log, e.Now), nil
	}

	return NewTariffsCollector(cfg, e.HTTP, e.Log, e.Now), nil
}

// EnergyDefinition of the octopus-energy binary.
var EnergyDefinition = plugin.Definition{
	Name:  "octopus-energy",
	Short: "Report Octopus Energy prices and consumption as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) { return build(e, true) },
}

// TariffsDefinition of the octopus-tariffs binary.
var TariffsDefinition = plugin.Definition{
	Name:  "octopus-tariffs",
	Short: "Report Octopus Energy unit rates as line protocol",
	Build: func(e plugin.Environment) (plugin.Collector, error) { return build(e, false) },
}
