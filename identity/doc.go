// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity provides the persistent signing and key-agreement
// identity for a sync-core peer (spec §4.A).
//
// Every peer holds one Ed25519 keypair (signing: chat/event provenance,
// dice-roll evidence, handshake authentication) and one X25519 keypair
// (key agreement: the static Diffie-Hellman contribution to Secure
// Channel key derivation). Both are generated once on first
// [Initialize] and persisted through a caller-supplied [SecureStorage],
// mirroring the external secure-storage collaborator of the original
// system (settings persistence and secret storage are out of core
// scope; only the interface is specified here).
//
// PeerID is a short textual fingerprint derived from the Ed25519
// public key (§3) — stable, collision-checked, and safe to print in
// logs or display in a roster UI.
package identity
