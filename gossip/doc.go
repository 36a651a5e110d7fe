// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package gossip runs the minimal convergence round between two
// already-authenticated peers over a securechannel.Channel (spec
// §4.H).
//
// The wire representation of an event is a flat record mirroring
// eventlog.EventRecord but with the vector clock and body rendered as
// strings (WireEvent). A batch of wire events is a JSON array; an
// empty batch serializes as the empty string rather than "[]".
//
// Each round trip is wrapped in a small CBOR envelope (package
// lib/codec's Core Deterministic Encoding) before it rides a secure
// channel Data frame — the envelope carries the message kind and,
// for large batches, a zstd-compressed payload. The event JSON inside
// the batch is untouched by this wrapping; only the transport
// envelope around it is CBOR.
//
// Because import is idempotent (content-addressed dedup) and
// topological ordering is recomputed at materialization, peers may
// exchange events in any order and still converge.
package gossip
