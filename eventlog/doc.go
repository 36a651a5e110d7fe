// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog defines the content-addressed, causally-ordered
// event log at the core of the sync substrate (spec §3, §4.C, §4.D): a
// per-session DAG of immutable events, each identified by the SHA-256
// hash of its own canonical byte encoding.
//
// Events are created once — by a local append or by importing a
// remote one — and are never mutated or deleted. A [Store]
// implementation persists the DAG; [CanonicalBytes], [ComputeEventID]
// and [VerifyEventID] derive and verify event ids from event content,
// independent of storage.
package eventlog
