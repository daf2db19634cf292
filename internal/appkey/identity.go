// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package appkey identifies the logical application an observation
// belongs to. Two connections reporting the same identity share one
// application-table entry.
package appkey

import (
	"sort"
	"strconv"
	"strings"
)

// Identity is the tuple that names one logical application. Agent
// language and version participate in the key so that two agents
// speaking different protocol versions never share a reservoir, even
// if every other field matches.
type Identity struct {
	LicenseKey    string
	AppNames      []string
	HighSecurity  bool
	AgentLanguage string
	AgentVersion  string
}

// Key collapses an Identity to a stable string suitable for use as a
// map key. AppNames order does not affect the key: the application
// library may report the same name list in different orders across
// reconnects (e.g. after its own internal re-sorting), and those
// reconnects must still land on the same entry.
func (id Identity) Key() string {
	names := make([]string, len(id.AppNames))
	copy(names, id.AppNames)
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(id.LicenseKey)
	b.WriteByte('\x1f')
	b.WriteString(strings.Join(names, "\x1e"))
	b.WriteByte('\x1f')
	b.WriteString(strconv.FormatBool(id.HighSecurity))
	b.WriteByte('\x1f')
	b.WriteString(id.AgentLanguage)
	b.WriteByte('\x1f')
	b.WriteString(id.AgentVersion)
	return b.String()
}
