// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestCreateWriteRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")

	f, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pid, err := f.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Write returned pid %d, want %d", pid, os.Getpid())
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.TrimSpace(string(contents))
	want := strconv.Itoa(os.Getpid())
	if got != want {
		t.Errorf("pid file contains %q, want %q", got, want)
	}

	f.Remove()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Remove did not unlink %s: %v", path, err)
	}
}

func TestCreateConcurrentLockExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.pid")

	winner, err := Create(path)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}

	if _, err := Create(path); err != ErrLocked {
		t.Errorf("second Create returned %v, want ErrLocked", err)
	}

	winner.Remove()

	third, err := Create(path)
	if err != nil {
		t.Fatalf("Create after Remove: %v", err)
	}
	third.Remove()
}
