// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncengine is the facade tying identity, the event store,
// vector clocks, and the materializer into the operations a host
// application actually calls (spec §4.F): append a local event, import
// a batch of remote events, and read materialized session state.
//
// The engine moves through three states — Uninitialized, Initializing,
// Ready — and serializes every append and import through a single
// write gate (spec §5); reads never take the gate and observe the
// store's own snapshot isolation.
package syncengine
