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

package sentry

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	// DefaultAppVersion is the version of binaries built without ldflags.
	DefaultAppVersion = "0.0.0-dev"

	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

var enabled atomic.Bool

// InitSentry enables error reporting for plugin when a DSN is configured.
// Local development builds never report.
func InitSentry(dsn, plugin, appVersion string, log *zap.SugaredLogger) bool {
	if dsn == "" {
		return false
	}

	if appVersion == "" || appVersion == DefaultAppVersion {
		log.Debug("Sentry disabled for local development build")

		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environmentFor(appVersion, log),
		Release:     plugin + "@" + appVersion,
		ServerName:  plugin,
	})
	if err != nil {
		log.Errorf("Failed to initialize Sentry: %s", err)

		return false
	}

	enabled.Store(true)

	return true
}

// environmentFor maps a release without prerelease part to production.
func environmentFor(appVersion string, log *zap.SugaredLogger) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		log.Warnf("Failed to parse app version, using default environment (development): %s", err)

		return DevelopmentEnvironment
	}

	if version.Prerelease() == "" {
		return ProductionEnvironment
	}

	return DevelopmentEnvironment
}

// ReportError sends err to Sentry if reporting is enabled.
func ReportError(err error, stage string) {
	if err == nil || !enabled.Load() {
		return
	}

	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = err.Error()
	event.Tags = map[string]string{"stage": stage}
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	sentry.CaptureEvent(event)
}

// Flush waits for queued events. The process exits right after a run, so
// anything not flushed here is lost.
func Flush(timeout time.Duration) {
	if enabled.Load() {
		sentry.Flush(timeout)
	}
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}
