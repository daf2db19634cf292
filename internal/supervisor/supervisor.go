// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the daemon's three-role spawn chain
// (spec §4.2): a progenitor re-execs itself as a session-detached
// watcher and exits; the watcher spawns a worker, waits for it, and
// respawns it on abnormal exit; the worker is the caller's own
// process and is run directly, not through this package.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/telemetryrelay/daemon/internal/role"
)

// respawnDelay is the pause the watcher takes before respawning a
// worker that exited abnormally. The original daemon respawns
// immediately; a small fixed delay avoids a pathological tight
// respawn loop on a worker that crashes instantly every time (spec §9
// "Watcher backoff" — flagged as a design improvement, not a bug
// fix, so it stays a small constant rather than growing into full
// exponential backoff).
const respawnDelay = 1 * time.Second

// SpawnWatcher re-executes the current process with its role set to
// watcher, detached into a new session rooted at "/". It returns once
// the watcher process has started; it does not wait for it to exit.
func SpawnWatcher() (*exec.Cmd, error) {
	name, err := exec.LookPath(os.Args[0])
	if err != nil {
		return nil, err
	}
	name, err = filepath.Abs(name)
	if err != nil {
		return nil, err
	}

	env := Environment(os.Environ())
	env.Set(role.EnvironmentVariable, "watcher")
	env.Set("PWD", "/")

	cmd := exec.Command(name, os.Args[1:]...)
	cmd.Dir = "/"
	cmd.Env = []string(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, mapSpawnError(err)
	}
	return cmd, nil
}

// mapSpawnError translates a specific low-level spawn failure into a
// readable diagnostic: very old Linux kernels mishandle the pipe2
// syscall and report it as EBADF from exec.Cmd.Start.
func mapSpawnError(err error) error {
	if runtime.GOOS != "linux" {
		return err
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && pathErr.Err == syscall.EBADF {
		return borkedSyscallError("pipe2")
	}
	return err
}

// borkedSyscallError describes the failure of a system call missing
// on some very old Linux kernels.
type borkedSyscallError string

func (e borkedSyscallError) Error() string {
	version := "unknown"
	if runtime.GOOS == "linux" {
		if v, err := ioutil.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
			version = string(v)
		}
	}
	return fmt.Sprintf(
		"this operating system is not supported: version=%s reason='%s is missing, but did not return -ENOSYS'",
		version, string(e))
}

// RunWatcher spawns a worker (the current executable re-invoked with
// its role set to worker) and respawns it after respawnDelay whenever
// it exits with a non-zero status, until ctx is cancelled. On
// cancellation the worker is sent SIGTERM and RunWatcher waits for it
// to exit before returning the worker's final exit code.
func RunWatcher(ctx context.Context, logger *slog.Logger) int {
	for {
		cmd := spawnWorker()
		if err := cmd.Start(); err != nil {
			logger.Error("watcher: unable to spawn worker", "error", err)
			return 1
		}

		exited := make(chan error, 1)
		go func() { exited <- cmd.Wait() }()

		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				cmd.Process.Signal(syscall.SIGTERM)
			}
			err := <-exited
			return exitCodeOf(err)
		case err := <-exited:
			code := exitCodeOf(err)
			if code == 0 {
				return 0
			}
			logger.Warn("watcher: worker exited abnormally, respawning", "exit_code", code, "delay", respawnDelay)
			select {
			case <-time.After(respawnDelay):
			case <-ctx.Done():
				return code
			}
		}
	}
}

// spawnWorker builds (without starting) the worker child process
// command: the current executable re-invoked with its role forced to
// worker.
func spawnWorker() *exec.Cmd {
	env := Environment(os.Environ())
	env.Set(role.EnvironmentVariable, "worker")

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = []string(env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// exitCodeOf extracts a process exit code from the error returned by
// exec.Cmd.Wait. A nil error is a clean exit (0).
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
