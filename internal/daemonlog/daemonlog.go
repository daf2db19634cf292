// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemonlog sets up the daemon's structured logger: a
// log/slog JSON handler writing to a resolved log file target,
// matching cmd/bureau-daemon's logging idiom
// (slog.New(slog.NewJSONHandler(...))) rather than a bespoke
// formatter.
package daemonlog

import (
	"fmt"
	"log/slog"
	"os"
)

// Level names accepted by --loglevel (spec §6).
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelDebug   = "debug"
)

// ParseLevel maps a spec §6 level name onto slog.Level. An
// unrecognized name defaults to info, matching the source daemon's
// default when --loglevel is omitted.
func ParseLevel(name string) slog.Level {
	switch name {
	case LevelError:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// standardLogPaths are tried in order when --logfile is unset.
var standardLogPaths = []string{
	"/var/log/newrelic/newrelic-daemon.log",
	"/var/log/newrelic-daemon.log",
}

// Open resolves the log file target and returns a ready-to-use
// *slog.Logger writing JSON records to it, plus the path it opened.
// If logFile is empty, the standard fallback locations are tried in
// order; if none is writable, an error names the first one, matching
// spec §6's log file resolution.
func Open(logFile string, level slog.Level) (*slog.Logger, string, error) {
	if logFile != "" {
		return openAt(logFile, level)
	}

	var firstErr error
	for _, path := range standardLogPaths {
		logger, opened, err := openAt(path, level)
		if err == nil {
			return logger, opened, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", fmt.Errorf("unable to find a suitable log file location, please check that %s exists and is writable", standardLogPaths[0])
}

func openAt(path string, level slog.Level) (*slog.Logger, string, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, "", err
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	return logger, path, nil
}

// Reopen is installed as the SIGHUP handler (spec §4.2): a no-op hook
// for log rotation. The daemon does not implement rotation itself —
// it logs that a SIGHUP was received so an operator's `logrotate
// postrotate` expectations aren't silently unmet, but does not reopen
// any file descriptor.
func Reopen(logger *slog.Logger) {
	logger.Info("received SIGHUP, log reopen is a no-op in this daemon")
}
