// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/tabletop-sync/core/syncerr"
)

// peerIDAlphabet is Crockford's base32 alphabet (omits I, L, O, U to avoid
// visual confusion), matching spec §3.
const peerIDAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// PeerIDLength is the fixed length of a derived PeerID.
const PeerIDLength = 10

// DerivePeerID computes the base32 fingerprint of the leading 6 bytes of
// SHA-256(identityPublicKey), rendered as a 10-character uppercase string
// (§3). Two distinct identity keys that happen to derive the same PeerID
// are a collision; callers must treat that as a verification failure
// rather than silently accepting either identity (see [VerifyPeerID]).
func DerivePeerID(identityPublicKey ed25519.PublicKey) string {
	sum := sha256.Sum256(identityPublicKey)
	var prefix [6]byte
	copy(prefix[:], sum[:6])
	return base32Encode6(prefix)
}

// base32Encode6 encodes 6 bytes (48 bits) as 10 base32 characters using
// peerIDAlphabet. This is the standard RFC 4648 base32 bit layout (5 bits
// per symbol, zero-padded in the low bits of the final symbol) with no
// '=' padding: 48 bits plus 2 zero padding bits fill exactly 10 five-bit
// groups.
func base32Encode6(data [6]byte) string {
	var bits uint64
	for _, b := range data {
		bits = bits<<8 | uint64(b)
	}
	bits <<= 2 // pad 48 bits up to 50 (10 groups of 5)

	var out [PeerIDLength]byte
	for i := PeerIDLength - 1; i >= 0; i-- {
		out[i] = peerIDAlphabet[bits&0x1F]
		bits >>= 5
	}
	return string(out[:])
}

// VerifyPeerID checks that claimedPeerID is the PeerID actually derived
// from identityPublicKey. Returns an error wrapping syncerr.PeerIdentityMismatch
// if they disagree — the handshake-level collision policy described in §9
// Open Questions: a mismatch is always treated as fatal, with no
// alternative resolution.
func VerifyPeerID(claimedPeerID string, identityPublicKey ed25519.PublicKey) error {
	actual := DerivePeerID(identityPublicKey)
	if actual != claimedPeerID {
		return syncerr.Wrap("identity.VerifyPeerID", syncerr.PeerIdentityMismatch,
			"claimed %q, fingerprint of presented key is %q", claimedPeerID, actual)
	}
	return nil
}
