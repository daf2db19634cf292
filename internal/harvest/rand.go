// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package harvest

import "math/rand"

// newSeededRand returns a *rand.Rand seeded from seed. Each entry's
// two event reservoirs (analytics, custom) get distinct seeds derived
// from the same base so that neither draws from a shared, contended
// source and their sampling sequences don't correlate.
func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed)) //nolint:gosec // sampling weight, not security-sensitive.
}
