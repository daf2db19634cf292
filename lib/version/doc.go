// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for relayd.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "false" / "0.1.0-dev" when not injected, which
// occurs during development builds and test runs.
//
// [Info] formats them into the single human-readable string relayd
// prints for --version and folds into its startup banner, e.g.
// "0.1.0-dev (abc1234, 2026-02-10T...)". relayd's banner appends Go
// runtime and platform facts itself, separately from this package,
// since those aren't build-time version facts.
package version
