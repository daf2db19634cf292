// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/telemetryrelay/daemon/internal/appkey"
	"github.com/telemetryrelay/daemon/internal/harvest"
	"github.com/telemetryrelay/daemon/internal/reservoir"
	"github.com/telemetryrelay/daemon/lib/clock"
	"github.com/telemetryrelay/daemon/lib/codec"
)

// Authenticator checks whether a connect frame's license key is acceptable
// and, if so, what run token and ingestion redirect (if any) to hand
// back. Concrete checking against a real license database is outside
// this package; Server is handed an Authenticator so tests can
// substitute a fake.
type Authenticator interface {
	Authenticate(identity appkey.Identity) (runToken string, redirectTo string, err error)
}

// RejectError is returned by an Authenticator to reject a connect
// frame with a specific, wire-visible cause rather than closing the
// connection silently.
type RejectError struct {
	Cause string
}

func (e *RejectError) Error() string { return "connect rejected: " + e.Cause }

// Server accepts connections on a single network address and
// dispatches their frames into an application table.
type Server struct {
	network         Network
	address         string
	table           *harvest.Table
	auth            Authenticator
	clk             clock.Clock
	logger          *slog.Logger
	harvestInterval time.Duration

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server that has not yet started listening.
// harvestInterval is the cycle period assigned to entries created by
// connect frames arriving on this server; pass 0 to use the spec's
// one-minute default.
func NewServer(network Network, address string, table *harvest.Table, auth Authenticator, clk clock.Clock, logger *slog.Logger, harvestInterval time.Duration) *Server {
	if harvestInterval <= 0 {
		harvestInterval = defaultHarvestInterval
	}
	return &Server{network: network, address: address, table: table, auth: auth, clk: clk, logger: logger, harvestInterval: harvestInterval}
}

// Serve listens on the configured address and accepts connections
// until ctx is cancelled. Each connection is served in its own
// goroutine; Serve returns once the listener is closed and all
// in-flight connections have finished draining.
func (s *Server) Serve(ctx context.Context) error {
	if s.network == NetworkUnix {
		if err := os.Remove(s.address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("listener: removing stale socket %s: %w", s.address, err)
		}
	}

	ln, err := net.Listen(string(s.network), s.address)
	if err != nil {
		return fmt.Errorf("listener: listening on %s %s: %w", s.network, s.address, err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("listener serving", "network", s.network, "address", s.address)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// handleConnection requires the first frame to be a connect frame; on
// acceptance it registers the connection with its entry and dispatches
// subsequent frames by kind until the connection closes or sends a
// malformed frame. A malformed frame or an evicted entry closes only
// this connection — the daemon keeps serving everyone else.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)

	entry, ok := s.handshake(conn, decoder)
	if !ok {
		return
	}
	entry.AddConnection(conn)
	defer entry.RemoveConnection(conn)

	for {
		var env envelope
		if err := decoder.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection closed on decode error", "error", err)
			}
			return
		}

		entry.Touch(s.clk)

		if !entry.Connected() {
			// The entry was disconnected by a rejected-permanent upload
			// outcome since this connection's handshake; the application
			// library is expected to reconnect with a fresh connect frame.
			return
		}

		if err := s.dispatch(entry, env); err != nil {
			s.logger.Debug("dropping malformed frame", "kind", env.Kind, "error", err)
			return
		}
	}
}

// handshake reads the first frame, requires it to be a connect frame,
// authenticates it, and writes back an accept or reject reply.
func (s *Server) handshake(conn net.Conn, decoder *codec.Decoder) (*harvest.Entry, bool) {
	var env envelope
	if err := decoder.Decode(&env); err != nil {
		s.logger.Debug("connection closed before handshake", "error", err)
		return nil, false
	}
	if env.Kind != KindConnect {
		s.logger.Debug("first frame was not a connect frame", "kind", env.Kind)
		return nil, false
	}

	var connect connectFrame
	if err := codec.Unmarshal(env.Payload, &connect); err != nil {
		s.logger.Debug("malformed connect frame", "error", err)
		return nil, false
	}

	identity := appkey.Identity{
		LicenseKey:    connect.LicenseKey,
		AppNames:      connect.AppNames,
		HighSecurity:  connect.HighSecurity,
		AgentLanguage: connect.AgentLanguage,
		AgentVersion:  connect.AgentVersion,
	}

	runToken, redirectTo, err := s.auth.Authenticate(identity)
	if err != nil {
		reply := connectReply{Accepted: false}
		var reject *RejectError
		if errors.As(err, &reject) {
			reply.RejectCause = reject.Cause
		} else {
			reply.RejectCause = "internal error"
		}
		codec.NewEncoder(conn).Encode(reply)
		return nil, false
	}

	if err := codec.NewEncoder(conn).Encode(connectReply{Accepted: true, RunToken: runToken, RedirectTo: redirectTo}); err != nil {
		s.logger.Debug("writing connect reply failed", "error", err)
		return nil, false
	}

	entry := s.table.GetOrCreate(identity, s.harvestInterval)
	entry.SetRunToken(runToken)
	return entry, true
}

// defaultHarvestInterval is the harvest cycle period used for newly
// created entries, matching the "typically one minute" default named
// in spec §4.3. cmd/relayd's --harvest-cycle flag overrides it by
// passing a different interval to NewServer.
const defaultHarvestInterval = 60 * time.Second

// dispatch decodes env's payload according to its Kind and merges it
// into the matching reservoir of entry.
func (s *Server) dispatch(entry *harvest.Entry, env envelope) error {
	switch env.Kind {
	case KindAnalyticEvent:
		var frame eventFrame
		if err := codec.Unmarshal(env.Payload, &frame); err != nil {
			return err
		}
		return entry.Analytics.Observe(reservoir.Event{Type: frame.Type, Timestamp: frame.Timestamp, Attributes: frame.Attributes})

	case KindCustomEvent:
		var frame eventFrame
		if err := codec.Unmarshal(env.Payload, &frame); err != nil {
			return err
		}
		return entry.Custom.Observe(reservoir.Event{Type: frame.Type, Timestamp: frame.Timestamp, Attributes: frame.Attributes})

	case KindMetric:
		var frame metricFrame
		if err := codec.Unmarshal(env.Payload, &frame); err != nil {
			return err
		}
		return entry.Metrics.Observe(reservoir.Metric{
			Name: frame.Name, Count: frame.Count, Total: frame.Total,
			Min: frame.Min, Max: frame.Max, SumOfSquares: frame.SumOfSquares,
		})

	case KindError:
		var frame errorFrame
		if err := codec.Unmarshal(env.Payload, &frame); err != nil {
			return err
		}
		return entry.Errors.Observe(reservoir.ErrorRecord{
			Timestamp: frame.Timestamp, Message: frame.Message, ErrorType: frame.ErrorType,
			TxnName: frame.TxnName, Params: frame.Params, StackTrace: frame.StackTrace,
		})

	case KindSlowSample:
		var frame slowSampleFrame
		if err := codec.Unmarshal(env.Payload, &frame); err != nil {
			return err
		}
		return entry.SlowSamples.Observe(reservoir.SlowSample{
			ID: frame.ID, Count: frame.Count, TotalMicros: frame.TotalMicros,
			MinMicros: frame.MinMicros, MaxMicros: frame.MaxMicros,
			MetricName: frame.MetricName, Query: frame.Query,
			TxnName: frame.TxnName, TxnURL: frame.TxnURL, Params: frame.Params,
		})

	default:
		return fmt.Errorf("listener: unknown frame kind %q", env.Kind)
	}
}
