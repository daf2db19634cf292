// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package role

import "testing"

func TestFromEnvPrecedence(t *testing.T) {
	watcherEnv := func(string) string { return "watcher" }
	emptyEnv := func(string) string { return "" }

	cases := []struct {
		name       string
		foreground bool
		getenv     func(string) string
		want       Role
	}{
		{"foreground beats env", true, watcherEnv, Worker},
		{"env watcher", false, watcherEnv, Watcher},
		{"no flag no env", false, emptyEnv, Progenitor},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FromEnv(c.foreground, c.getenv); got != c.want {
				t.Errorf("FromEnv(%v, ...) = %v, want %v", c.foreground, got, c.want)
			}
		})
	}
}

func TestParseUnknownIsProgenitor(t *testing.T) {
	if got := Parse("bogus"); got != Progenitor {
		t.Errorf("Parse(%q) = %v, want Progenitor", "bogus", got)
	}
}

func TestString(t *testing.T) {
	cases := map[Role]string{
		Progenitor: "progenitor",
		Watcher:    "watcher",
		Worker:     "worker",
	}
	for role, want := range cases {
		if got := role.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", role, got, want)
		}
	}
}
