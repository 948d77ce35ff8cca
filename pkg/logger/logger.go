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

// Package logger configures the zap logger shared by all exec plugins.
//
// Standard output belongs to the line protocol stream that the metrics agent
// parses, so every log line is written to standard error.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the logging level.
type LogLevel string

// LogFormat represents the logging format.
type LogFormat string

const (
	DebugLevel  LogLevel = "DEBUG"
	InfoLevel   LogLevel = "INFO"
	WarnLevel   LogLevel = "WARN"
	ErrorLevel  LogLevel = "ERROR"
	DPanicLevel LogLevel = "DPANIC"
	PanicLevel  LogLevel = "PANIC"
	FatalLevel  LogLevel = "FATAL"
	// ProductionLevel is an alias for WarnLevel. Exec plugins run every few
	// seconds, so the agent log should only see problems by default.
	ProductionLevel LogLevel = "PRODUCTION"

	// FormatConsole indicates human-readable console format.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON indicates structured JSON format.
	FormatJSON LogFormat = "JSON"
)

var (
	initOnce    sync.Once
	initialized bool
	mu          sync.Mutex
)

// ParseLevel converts a string log level to zapcore.Level. Unknown values
// fall back to the production level.
func ParseLevel(level string) zapcore.Level {
	switch LogLevel(strings.ToUpper(level)) {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case DPanicLevel:
		return zapcore.DPanicLevel
	case PanicLevel:
		return zapcore.PanicLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.WarnLevel
	}
}

// ParseFormat returns the requested format, or def when format is unknown.
func ParseFormat(format string, def LogFormat) LogFormat {
	switch f := LogFormat(strings.ToUpper(format)); f {
	case FormatConsole, FormatJSON:
		return f
	default:
		return def
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New creates a zap logger writing to standard error.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	return NewWithWriter(os.Stderr, logLevel, logFormat)
}

// NewWithWriter creates a zap logger writing to w.
func NewWithWriter(w io.Writer, logLevel string, logFormat LogFormat) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder

	if logFormat == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.AddSync(w),
		zap.NewAtomicLevelAt(ParseLevel(logLevel)),
	)

	return zap.New(core, zap.AddCaller())
}

// Initialize sets up the global logger with zap.ReplaceGlobals. Empty
// arguments are taken from LOGGING_LEVEL and LOGGING_FORMAT.
func Initialize(logLevel, logFormat string) {
	initOnce.Do(func() {
		if logLevel == "" {
			logLevel = os.Getenv("LOGGING_LEVEL")
		}

		if logLevel == "" {
			logLevel = string(ProductionLevel)
		}

		if logFormat == "" {
			logFormat = os.Getenv("LOGGING_FORMAT")
		}

		format := ParseFormat(logFormat, FormatConsole)
		logger := New(logLevel, format)

		zap.ReplaceGlobals(logger)
		logger.Debug("Logger initialized",
			zap.String("level", logLevel),
			zap.String("format", string(format)))

		mu.Lock()
		initialized = true
		mu.Unlock()
	})
}

func ensureInitialized() {
	mu.Lock()
	done := initialized
	mu.Unlock()

	if !done {
		Initialize("", "")
	}
}

// GetSugaredLogger returns the global sugared logger, initializing it if needed.
func GetSugaredLogger() *zap.SugaredLogger {
	ensureInitialized()

	return zap.S()
}

// Sync flushes any buffered log entries.
func Sync() {
	// stderr returns EINVAL/ENOTTY on Sync on most platforms, nothing to report
	_ = zap.L().Sync()
}

// For creates a named logger for a specific component.
func For(component string) *zap.SugaredLogger {
	ensureInitialized()

	return zap.S().Named(component)
}
