// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package materializer folds a session's event DAG into a read-only
// [SessionState] (spec §4.E): a topological pass orders events by
// (lamport_clock, event_id), then a per-kind fold builds the chat
// transcript, presence roster, flag map, and dice history.
//
// Materialization is pure and deterministic: given the same set of
// events, every replica produces a byte-equal SessionState, regardless
// of the order events arrived or were imported in.
package materializer
