// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package reservoir implements the daemon's bounded in-memory
// samplers: analytics events, custom events, metrics, errors, and
// slow samples. Each kind has its own replacement rule, but all of
// them satisfy the same Capability so the harvest scheduler can swap
// and reduce an application entry's reservoirs without knowing their
// concrete kind.
package reservoir

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
)

// Capability is the operation set every reservoir kind implements.
// Observe takes `any` because each concrete reservoir only accepts
// its own record type — it type-asserts internally and returns an
// error for a mismatched item, rather than being generic over a
// record type the harvest scheduler would otherwise have to know
// about. Swap atomically replaces the reservoir's contents with an
// empty instance of the same capacity and returns the retired one
// (a new instance holding the previous contents) for reduction. Reduce
// converts a swapped-out reservoir into its upload payload.
type Capability interface {
	Observe(item any) error
	Swap() Capability
	Reduce() ([]byte, error)
}

// compressParams gzip-compresses and base64-encodes an opaque
// parameter blob, matching the collector's compact wire
// representation for slow-sample params. A nil or empty blob encodes
// to the empty string rather than a compressed empty stream, since
// the collector treats an empty string as "no params" without
// needing to inflate anything.
func compressParams(params []byte) (string, error) {
	if len(params) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(params); err != nil {
		writer.Close()
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
