// Copyright 2025 Google LLC
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

// Package logger wraps log/slog with the severity levels and file rotation
// used throughout the replication and storage engines.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity is a coarser-grained level than slog's, matching the vocabulary
// used in component docs and audit records.
type Severity int

const (
	Trace Severity = iota
	Debug
	Info
	Warning
	Error
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case Trace:
		return slog.Level(-8)
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (s Severity) String() string {
	switch s {
	case Trace:
		return "TRACE"
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

var (
	mu            sync.RWMutex
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// Config controls where and how the default logger writes.
type Config struct {
	// Severity is the minimum level that is emitted.
	Severity Severity
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// FilePath, when non-empty, routes output through a rotating
	// lumberjack writer instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init installs a new default logger built from cfg. Safe to call again to
// reconfigure (e.g. after a live-config reload of the logging severity).
func Init(cfg Config) {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    firstNonZero(cfg.MaxSizeMB, 100),
			MaxBackups: firstNonZero(cfg.MaxBackups, 5),
			MaxAge:     firstNonZero(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Severity.slogLevel()}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	defaultLogger = slog.New(h)
	mu.Unlock()
}

func firstNonZero(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns a logger carrying the given structured fields, e.g.
// logger.With("peer", siteID, "shard", shardID).
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

func Tracef(ctx context.Context, msg string, args ...any) {
	get().Log(ctx, slog.Level(-8), fmt.Sprintf(msg, args...))
}

func Debugf(ctx context.Context, msg string, args ...any) {
	get().DebugContext(ctx, fmt.Sprintf(msg, args...))
}

func Infof(ctx context.Context, msg string, args ...any) {
	get().InfoContext(ctx, fmt.Sprintf(msg, args...))
}

func Warnf(ctx context.Context, msg string, args ...any) {
	get().WarnContext(ctx, fmt.Sprintf(msg, args...))
}

func Errorf(ctx context.Context, msg string, args ...any) {
	get().ErrorContext(ctx, fmt.Sprintf(msg, args...))
}
