// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "context"

// SecureStorage is the external collaborator identity persists keypairs
// through. Settings persistence and secret storage primitives are out of
// core scope (spec §1); the core depends only on this interface (§6).
type SecureStorage interface {
	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Get returns the value stored under key, or ("", false, nil) if no
	// value is stored.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Remove deletes the value stored under key. Removing an absent key
	// is not an error.
	Remove(ctx context.Context, key string) error
}

// Storage keys used by Initialize to persist the identity blob.
const (
	storageKeyIdentity = "tabletopsync.identity.v1"
)
