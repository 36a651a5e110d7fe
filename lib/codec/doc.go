// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides this module's standard CBOR encoding
// configuration.
//
// The module uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the wire event record (§6), batches
//     exchanged during gossip, and anything a caller outside the module
//     might log or inspect.
//   - CBOR for internal transport envelopes: the gossip exchange wraps
//     a round's heads/known-ids or wire-JSON batch in a CBOR envelope
//     before it rides a secure channel's Data frame, keeping the
//     individual event payload JSON while the envelope around it stays
//     compact and self-describing.
//
// This package provides the shared CBOR encoding and decoding modes so
// every package encodes identically without duplicating configuration.
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. Examples:
//     gossip envelope framing.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats. Examples: the wire event record,
//     which is JSON at rest inside a gossip batch but may also be
//     CBOR-wrapped as part of an envelope field.
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract — doubling up is noise that obscures
// whether a type participates in JSON serialization.
package codec
