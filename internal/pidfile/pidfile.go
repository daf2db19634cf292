// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package pidfile implements the daemon's single-instance interlock:
// an exclusive advisory file lock plus a pid written in decimal. Only
// the process holding the lock may write its pid to the file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by Create when another process already holds
// the lock on the given path. Callers must treat this as "another
// daemon is live" and exit successfully, not as a failure.
var ErrLocked = errors.New("pidfile: already locked by another process")

// File is a pid file whose lock is held by this process.
type File struct {
	path string
	file *os.File
}

// Create opens or creates the file at path and acquires an exclusive,
// non-blocking advisory lock on it. If the lock is already held, it
// returns ErrLocked. The returned File has the lock but has not yet
// written a pid — call Write for that.
func Create(path string) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pidfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("pidfile: lock %s: %w", path, err)
	}

	return &File{path: path, file: file}, nil
}

// Name returns the filesystem path of the pid file.
func (f *File) Name() string {
	return f.path
}

// Write truncates the file and writes the current process id to it
// as a decimal string on its own line.
func (f *File) Write() (int, error) {
	pid := os.Getpid()
	if err := f.file.Truncate(0); err != nil {
		return 0, fmt.Errorf("pidfile: truncate %s: %w", f.path, err)
	}
	if _, err := f.file.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("pidfile: seek %s: %w", f.path, err)
	}
	if _, err := f.file.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		return 0, fmt.Errorf("pidfile: write %s: %w", f.path, err)
	}
	return pid, nil
}

// Remove releases the lock and unlinks the file. Both steps are
// best-effort: an unlink failure (the file already gone, a permission
// race) is not fatal, since the lock itself is released by closing
// the descriptor regardless.
func (f *File) Remove() {
	unix.Flock(int(f.file.Fd()), unix.LOCK_UN)
	f.file.Close()
	os.Remove(f.path)
}
