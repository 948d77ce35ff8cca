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

// Package lineprotocol turns collected points into InfluxDB line protocol.
package lineprotocol

import (
	"time"
)

// NoTimestamp leaves the timestamp out of a line.
var NoTimestamp time.Time

// Point is a single measurement row.
//
// Field values may be any Go integer, float, string or bool. A zero Time
// leaves the timestamp out so the agent stamps the line on arrival.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// NewPoint returns a point with initialised maps.
func NewPoint(measurement string, ts time.Time) Point {
	return Point{
		Measurement: measurement,
		Tags:        map[string]string{},
		Fields:      map[string]any{},
		Time:        ts,
	}
}

// Tag sets a tag and returns the point for chaining.
func (p Point) Tag(key, value string) Point {
	p.Tags[key] = value

	return p
}

// Field sets a field and returns the point for chaining.
func (p Point) Field(key string, value any) Point {
	p.Fields[key] = value

	return p
}
