// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingestclient sends harvested reservoir payloads to the
// remote ingestion service and classifies the result. The daemon
// never retries a failed upload — see Outcome — so this package's
// only job is to draw an accurate line between "accepted", "rejected
// forever", and "rejected for now".
package ingestclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// Outcome classifies the result of one upload attempt. All three
// outcomes are terminal from the harvest scheduler's point of view:
// the payload is discarded regardless of which one comes back.
type Outcome int

const (
	// Accepted means the remote service stored the payload.
	Accepted Outcome = iota
	// RejectedPermanent means the remote service will never accept
	// this payload: it was malformed, or the application run token
	// it was sent under is no longer valid. The caller should mark
	// the owning entry disconnected.
	RejectedPermanent
	// RejectedRetry means the remote service is temporarily
	// unavailable. A future harvest may succeed, but this payload
	// itself is not retried.
	RejectedRetry
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedPermanent:
		return "rejected-permanent"
	case RejectedRetry:
		return "rejected-retry"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Uploader sends one kind of reduced reservoir payload to the remote
// ingestion service under a given application run token. The daemon
// uses this interface, rather than calling net/http directly from the
// harvest scheduler, so tests can substitute a fake that returns a
// scripted Outcome without a real network endpoint.
type Uploader interface {
	Upload(ctx context.Context, runToken, kind string, payload []byte) (Outcome, error)
}

// HTTPUploader posts payloads to the ingestion service over HTTPS.
// The concrete wire encoding of the request (headers, URL shape) is
// out of scope; this type exists to give the Uploader interface a
// real, testable transport.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPUploader creates an HTTPUploader posting to endpoint. It
// clones the default transport rather than sharing it, so connection
// pooling settings can be tuned independently of any other HTTP
// client in the process.
func NewHTTPUploader(endpoint string, timeout time.Duration) *HTTPUploader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &HTTPUploader{
		endpoint: endpoint,
		client:   &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Upload posts payload to <endpoint>/<kind>?run_id=<runToken> and
// classifies the response status into an Outcome. A 2xx response is
// Accepted; 4xx is RejectedPermanent (the server will never accept
// this exact payload or this run token again); anything else
// (5xx, network error, timeout) is RejectedRetry.
func (u *HTTPUploader) Upload(ctx context.Context, runToken, kind string, payload []byte) (Outcome, error) {
	url := fmt.Sprintf("%s/%s?run_id=%s", u.endpoint, kind, runToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return RejectedRetry, fmt.Errorf("ingestclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return RejectedRetry, fmt.Errorf("ingestclient: post %s: %w", kind, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Accepted, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return RejectedPermanent, nil
	default:
		return RejectedRetry, nil
	}
}
