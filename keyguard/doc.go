// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyguard provides memory-safe buffers for key material. In
// this module they hold ephemeral X25519 private keys and the
// file-storage passphrase; the persistent Ed25519/X25519 identity keys
// and the derived Secure Channel AEAD keys are not held in a Buffer.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// Because the memory is allocated outside the Go heap, the garbage
// collector never sees it and cannot copy or relocate it. Ephemeral
// X25519 private keys must be zeroized as soon as shared-secret
// derivation completes (§5); Buffer.Close is how that happens.
package keyguard
