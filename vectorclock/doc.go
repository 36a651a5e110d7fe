// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package vectorclock implements the causal-ordering vector clock used
// throughout the event log (spec §4.B): a pure, persistent mapping from
// peer_id to a monotonic per-peer counter. Every operation returns a new
// Clock rather than mutating the receiver, so a Clock referenced inside
// an already-hashed event body can never change underneath its hash.
//
// Ordering of peer_id entries in the canonical string form and in JSON
// is always ordinal byte comparison, never locale-aware — two peers
// must compute byte-identical output for the same logical clock
// regardless of host locale (spec §9).
package vectorclock
