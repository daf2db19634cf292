// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package listener implements the daemon's local transport (spec
// §4.5): it accepts connections on a TCP endpoint or a filesystem
// socket, decodes the framed CBOR protocol each connection speaks,
// and dispatches observation frames into the application table.
package listener

import "github.com/telemetryrelay/daemon/lib/codec"

// Kind discriminates an observation frame's payload type. Decoded
// before the payload itself so the listener can route to the right
// reservoir without knowing every frame's full shape up front.
type Kind string

const (
	KindConnect       Kind = "connect"
	KindAnalyticEvent Kind = "analytic_event"
	KindCustomEvent   Kind = "custom_event"
	KindMetric        Kind = "metric"
	KindError         Kind = "error"
	KindSlowSample    Kind = "slow_sample"
)

// envelope is the outer shape of every frame on the wire: a kind
// discriminator plus an opaque payload decoded separately once the
// kind is known. CBOR's self-delimiting encoding means frames need no
// length prefix — the decoder simply asks for the next value.
type envelope struct {
	Kind    Kind             `cbor:"kind"`
	Payload codec.RawMessage `cbor:"payload"`
}

// connectFrame is the first frame a connection must send: the
// application identity the connection is reporting observations for.
type connectFrame struct {
	LicenseKey    string   `cbor:"license_key"`
	AppNames      []string `cbor:"app_names"`
	HighSecurity  bool     `cbor:"high_security"`
	AgentLanguage string   `cbor:"agent_language"`
	AgentVersion  string   `cbor:"agent_version"`
}

// connectReply is the daemon's response to a connect frame: either an
// accept carrying the opaque application run token, or a reject
// naming the reason (invalid license, high-security mismatch, or a
// redirect to a different ingestion host).
type connectReply struct {
	Accepted    bool   `cbor:"accepted"`
	RunToken    string `cbor:"run_token,omitempty"`
	RejectCause string `cbor:"reject_cause,omitempty"`
	RedirectTo  string `cbor:"redirect_to,omitempty"`
}

// metricFrame carries one metric observation.
type metricFrame struct {
	Name         string  `cbor:"name"`
	Count        float64 `cbor:"count"`
	Total        float64 `cbor:"total"`
	Min          float64 `cbor:"min"`
	Max          float64 `cbor:"max"`
	SumOfSquares float64 `cbor:"sum_of_squares"`
}

// eventFrame carries one analytics or custom event observation; the
// Kind field on the envelope says which reservoir it belongs to.
type eventFrame struct {
	Type       string         `cbor:"type"`
	Timestamp  float64        `cbor:"timestamp"`
	Attributes map[string]any `cbor:"attributes,omitempty"`
}

// errorFrame carries one error trace observation.
type errorFrame struct {
	Timestamp  float64        `cbor:"timestamp"`
	Message    string         `cbor:"message"`
	ErrorType  string         `cbor:"error_class"`
	TxnName    string         `cbor:"txn_name"`
	Params     map[string]any `cbor:"params,omitempty"`
	StackTrace []string       `cbor:"stack_trace,omitempty"`
}

// slowSampleFrame carries one slow-sample observation.
type slowSampleFrame struct {
	ID          string `cbor:"id"`
	Count       int64  `cbor:"count"`
	TotalMicros uint64 `cbor:"total_micros"`
	MinMicros   uint64 `cbor:"min_micros"`
	MaxMicros   uint64 `cbor:"max_micros"`
	MetricName  string `cbor:"metric_name"`
	Query       string `cbor:"query"`
	TxnName     string `cbor:"txn_name"`
	TxnURL      string `cbor:"txn_url"`
	Params      []byte `cbor:"params,omitempty"`
}
