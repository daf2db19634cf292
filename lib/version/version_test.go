// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestInfoIncludesCommitAndBuildTime(t *testing.T) {
	oldCommit, oldDirty, oldBuild, oldVersion := GitCommit, GitDirty, BuildTime, Version
	defer func() { GitCommit, GitDirty, BuildTime, Version = oldCommit, oldDirty, oldBuild, oldVersion }()

	GitCommit, GitDirty, BuildTime, Version = "abc1234", "false", "2026-01-01T00:00:00Z", "1.2.3"

	got := Info()
	for _, want := range []string{"1.2.3", "abc1234", "2026-01-01T00:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("Info() = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "-dirty") {
		t.Errorf("Info() = %q, should not mark a clean build dirty", got)
	}
}

func TestInfoMarksDirtyBuild(t *testing.T) {
	oldDirty := GitDirty
	defer func() { GitDirty = oldDirty }()

	GitDirty = "true"
	if got := Info(); !strings.Contains(got, "-dirty") {
		t.Errorf("Info() = %q, want it to contain -dirty", got)
	}
}
