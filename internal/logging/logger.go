// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package logging provides the process-wide structured logger.
//
// The pipeline logs every external failure and checkpoint transition
// through zerolog rather than fmt.Println, so operators can grep/ship
// JSON lines the same way they would for any other service.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger zerolog.Logger
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init (re)configures the global logger level and output format.
// level accepts zerolog level names ("debug", "info", "warn", "error").
// When pretty is true, output is human-readable instead of JSON — useful
// for local runs, never for production (stdout stays JSON there).
func Init(level string, pretty bool) {
	mu.Lock()
	defer mu.Unlock()

	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)

	var w = os.Stdout
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		return
	}
	logger = zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns the current global logger by value.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

type contextKey string

const bindingKey contextKey = "binding"

// ContextWithBinding tags ctx with the elastic_index name of the binding
// currently being processed, so every log line emitted underneath an
// orchestrator cycle carries it without threading it through every call.
func ContextWithBinding(ctx context.Context, index string) context.Context {
	return context.WithValue(ctx, bindingKey, index)
}

// Ctx returns a logger with the binding field populated from ctx, if any.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if index, ok := ctx.Value(bindingKey).(string); ok && index != "" {
		withIndex := l.With().Str("elastic_index", index).Logger()
		return &withIndex
	}
	return &l
}

// Info starts an info-level event on the global logger.
func Info() *zerolog.Event { return Logger().Info() }

// Warn starts a warn-level event on the global logger.
func Warn() *zerolog.Event { return Logger().Warn() }

// Error starts an error-level event on the global logger.
func Error() *zerolog.Event { return Logger().Error() }

// Fatal starts a fatal-level event on the global logger; zerolog calls
// os.Exit(1) once the event is logged.
func Fatal() *zerolog.Event { return Logger().Fatal() }

// Debug starts a debug-level event on the global logger.
func Debug() *zerolog.Event { return Logger().Debug() }
