// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncerr defines the error taxonomy shared by every component of
// the sync core. Each kind is a sentinel error; callers use errors.Is and
// errors.As (via the *Error wrapper) to recover the kind and attached
// context without parsing strings.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Compare with errors.Is, e.g. errors.Is(err, syncerr.ContentHashMismatch).
var (
	// NotInitialized is returned when an operation is attempted before
	// initialize() has completed.
	NotInitialized = errors.New("syncerr: not initialized")

	// ContentHashMismatch is returned when an imported event's
	// transmitted id disagrees with its recomputed content id.
	ContentHashMismatch = errors.New("syncerr: content hash mismatch")

	// PeerIdentityMismatch is returned when a handshake peer_id does not
	// match the SHA-256 fingerprint of the presented identity key.
	PeerIdentityMismatch = errors.New("syncerr: peer identity mismatch")

	// HandshakeSignatureInvalid is returned when the Ed25519 signature
	// over the handshake transcript fails to verify.
	HandshakeSignatureInvalid = errors.New("syncerr: handshake signature invalid")

	// SessionMismatch is returned when the session id in a handshake ack
	// differs from the session id in the hello.
	SessionMismatch = errors.New("syncerr: session id mismatch")

	// CryptographicFailure is returned when an AEAD open fails.
	CryptographicFailure = errors.New("syncerr: cryptographic failure")

	// ReplayDetected is returned when a frame's sequence number has
	// already been seen.
	ReplayDetected = errors.New("syncerr: replay detected")

	// AckTimeout is returned when no ack arrives within the configured
	// timeout.
	AckTimeout = errors.New("syncerr: ack timeout")

	// UnknownFrame is returned when a frame code is not one of the
	// enumerated wire codes.
	UnknownFrame = errors.New("syncerr: unknown frame code")

	// FormulaInvalid is returned when a dice formula cannot be parsed.
	FormulaInvalid = errors.New("syncerr: dice formula invalid")

	// FormulaOutOfRange is returned when a dice formula parses but its
	// dice count, sides, or modifier fall outside the permitted bounds.
	FormulaOutOfRange = errors.New("syncerr: dice formula out of range")

	// Cancelled is returned when the caller's context is cancelled
	// mid-operation.
	Cancelled = errors.New("syncerr: cancelled")

	// StorageFailure wraps an underlying durable-store error.
	StorageFailure = errors.New("syncerr: storage failure")

	// PeerExpired is returned when a Channel has received no frame from
	// its peer within the configured peer_expiry window.
	PeerExpired = errors.New("syncerr: peer expired")
)

// Error pairs a taxonomy kind with operation-specific context, so logs and
// errors.Is checks both work off the same value: errors.Is(err, Kind) finds
// the sentinel through Unwrap, and Error() carries the detail a human reads.
type Error struct {
	Kind    error
	Op      string
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Kind }

// Wrap builds an *Error for op carrying kind, with an optional formatted
// context string.
func Wrap(op string, kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Context: fmt.Sprintf(format, args...)}
}
