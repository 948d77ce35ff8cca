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

package octopus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/telegraf-exec-plugins/pkg/httpclient"
)

// queryTimeLayout is the period_from format accepted by the API.
const queryTimeLayout = "2006-01-02T15:04:05Z"

// maxPages bounds how many result pages a single listing follows.
const maxPages = 20

// Account as returned by /accounts/{number}.
type Account struct {
	Number     string     `json:"number"`
	Properties []Property `json:"properties"`
}

// Property of an account.
type Property struct {
	ID                     int64        `json:"id"`
	MovedInAt              string       `json:"moved_in_at"`
	ElectricityMeterPoints []MeterPoint `json:"electricity_meter_points"`
}

// MeterPoint is one MPAN with its meters and tariff agreements.
type MeterPoint struct {
	MPAN       string      `json:"mpan"`
	Meters     []Meter     `json:"meters"`
	Agreements []Agreement `json:"agreements"`
}

// Meter installed at a meter point.
type Meter struct {
	SerialNumber string `json:"serial_number"`
}

// Agreement binds a meter point to a tariff for a period. ValidTo is nil for
// open ended agreements.
type Agreement struct {
	TariffCode string     `json:"tariff_code"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to"`
}

// Rate is a unit rate or standing charge.
type Rate struct {
	ValueExcVAT   float64    `json:"value_exc_vat"`
	ValueIncVAT   float64    `json:"value_inc_vat"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to"`
	PaymentMethod *string    `json:"payment_method"`
}

// Consumption of one half hour interval.
type Consumption struct {
	Consumption   float64   `json:"consumption"`
	IntervalStart time.Time `json:"interval_start"`
	IntervalEnd   time.Time `json:"interval_end"`
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// API is a thin client of the Octopus Energy REST API.
type API struct {
	baseURL string
	key     string
	client  *httpclient.Client
}

// NewAPI returns an API authenticating with key.
func NewAPI(baseURL, key string, client *httpclient.Client) *API {
	return &API{baseURL: strings.TrimRight(baseURL, "/"), key: key, client: client}
}

func (a *API) request(rawURL string, query url.Values) httpclient.Request {
	return httpclient.Request{
		URL:       rawURL,
		Query:     query,
		BasicAuth: &httpclient.BasicAuth{Username: a.key},
	}
}

// Account fetches the account with its properties and meter points.
func (a *API) Account(ctx context.Context, number string) (*Account, error) {
	acc, err := httpclient.GetJSON[Account](ctx, a.client, a.request(a.baseURL+"/accounts/"+url.PathEscape(number), nil))
	if err != nil {
		return nil, fmt.Errorf("fetching account %s: %w", number, err)
	}

	return acc, nil
}

// UnitRates lists the standard unit rates of tariff since from.
func (a *API) UnitRates(ctx context.Context, tariff Tariff, from time.Time) ([]Rate, error) {
	return list[Rate](ctx, a, a.tariffURL(tariff, "standard-unit-rates"), periodFrom(from))
}

// StandingCharges lists the standing charges of tariff since from.
func (a *API) StandingCharges(ctx context.Context, tariff Tariff, from time.Time) ([]Rate, error) {
	return list[Rate](ctx, a, a.tariffURL(tariff, "standing-charges"), periodFrom(from))
}

// Consumption lists the half hourly consumption of a meter since from.
func (a *API) Consumption(ctx context.Context, mpan, serial string, from time.Time) ([]Consumption, error) {
	u := fmt.Sprintf("%s/electricity-meter-points/%s/meters/%s/consumption", a.baseURL, url.PathEscape(mpan), url.PathEscape(serial))

	return list[Consumption](ctx, a, u, periodFrom(from))
}

func (a *API) tariffURL(t Tariff, kind string) string {
	return fmt.Sprintf("%s/products/%s/electricity-tariffs/%s/%s", a.baseURL, url.PathEscape(t.Product), url.PathEscape(t.Code), kind)
}

func periodFrom(from time.Time) url.Values {
	return url.Values{"period_from": {from.UTC().Format(queryTimeLayout)}}
}

// list follows the next links of a paginated listing.
func list[T any](ctx context.Context, a *API, first string, query url.Values) ([]T, error) {
	var results []T

	next := first

	for i := 0; next != "" && i < maxPages; i++ {
		p, err := httpclient.GetJSON[page[T]](ctx, a.client, a.request(next, query))
		if err != nil {
			return nil, err
		}

		results = append(results, p.Results...)

		next = ""
		if p.Next != nil {
			next = *p.Next
			// next links carry the full query
			query = nil
		}
	}

	return results, nil
}
