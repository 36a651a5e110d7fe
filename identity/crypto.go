// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/tabletop-sync/core/keyguard"
)

// SharedSecretSize is the output size, in bytes, of every shared secret
// produced by this package.
const SharedSecretSize = 32

// Sign produces a 64-byte Ed25519 detached signature over data using the
// identity's private signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.identityPrivate, data)
}

// Verify reports whether signature is a valid Ed25519 signature of data
// under publicKey. Never panics — malformed keys or signatures simply
// verify false (§4.A failure semantics).
func Verify(data, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

// EphemeralKXPair is a fresh X25519 keypair generated for one handshake.
// The private key is held in a guarded [keyguard.Buffer] and must be
// closed (zeroized) as soon as shared-secret derivation completes (§5).
type EphemeralKXPair struct {
	Private *keyguard.Buffer
	Public  [32]byte
}

// Close zeroizes the ephemeral private key. Safe to call multiple times.
func (p *EphemeralKXPair) Close() error {
	if p.Private == nil {
		return nil
	}
	return p.Private.Close()
}

// GenerateEphemeralKXPair generates a fresh X25519 keypair for one
// handshake. The caller owns the returned pair's lifetime and must Close
// it once shared-secret derivation is complete.
func GenerateEphemeralKXPair() (*EphemeralKXPair, error) {
	privateBytes := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, privateBytes); err != nil {
		return nil, fmt.Errorf("identity: generating ephemeral X25519 private key: %w", err)
	}

	publicBytes, err := curve25519.X25519(privateBytes, curve25519.Basepoint)
	if err != nil {
		keyguard.Zero(privateBytes)
		return nil, fmt.Errorf("identity: deriving ephemeral X25519 public key: %w", err)
	}

	private, err := keyguard.NewFromBytes(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("identity: guarding ephemeral private key: %w", err)
	}

	var public [32]byte
	copy(public[:], publicBytes)
	return &EphemeralKXPair{Private: private, Public: public}, nil
}

// generateX25519KeyPair generates a persistent X25519 key-agreement
// keypair (used once, at Initialize, for the long-lived agreement key).
func generateX25519KeyPair() (private [32]byte, public [32]byte, err error) {
	if _, err := io.ReadFull(rand.Reader, private[:]); err != nil {
		return private, public, fmt.Errorf("identity: generating X25519 private key: %w", err)
	}
	publicBytes, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return private, public, fmt.Errorf("identity: deriving X25519 public key: %w", err)
	}
	copy(public[:], publicBytes)
	return private, public, nil
}

// ComputeSharedSecret performs X25519(priv, remotePub) followed by
// HKDF-SHA-256 with empty salt and empty info, producing 32 bytes (§4.A).
// Raw DH output is never used directly — every shared secret in this
// system passes through this HKDF extract/expand step first.
//
// priv is borrowed and not modified; the returned secret must be zeroized
// by the caller (wrap it in a [keyguard.Buffer] if it will be held).
func ComputeSharedSecret(priv, remotePub [32]byte) ([32]byte, error) {
	var secret [32]byte

	dh, err := curve25519.X25519(priv[:], remotePub[:])
	if err != nil {
		return secret, fmt.Errorf("identity: X25519 DH failed: %w", err)
	}
	defer keyguard.Zero(dh)

	reader := hkdf.New(sha256.New, dh, nil, nil)
	if _, err := io.ReadFull(reader, secret[:]); err != nil {
		return secret, fmt.Errorf("identity: HKDF-SHA-256 extract/expand failed: %w", err)
	}
	return secret, nil
}

// ComputeStaticSharedSecret is ComputeSharedSecret using the identity's
// persistent agreement private key.
func (id *Identity) ComputeStaticSharedSecret(remotePub [32]byte) ([32]byte, error) {
	return ComputeSharedSecret(id.agreementPrivate, remotePub)
}

// RawX25519 performs a bare X25519 Diffie-Hellman and returns the raw
// shared point with no HKDF step applied. It exists for protocols that
// combine several DH outputs under a single HKDF extract of their own
// (the secure channel handshake, §4.G) — unlike ComputeSharedSecret,
// its output must never be used as a key directly.
func RawX25519(priv, remotePub [32]byte) ([32]byte, error) {
	var secret [32]byte
	dh, err := curve25519.X25519(priv[:], remotePub[:])
	if err != nil {
		return secret, fmt.Errorf("identity: X25519 DH failed: %w", err)
	}
	copy(secret[:], dh)
	keyguard.Zero(dh)
	return secret, nil
}

// RawStaticAgreement performs RawX25519 using the identity's persistent
// agreement private key.
func (id *Identity) RawStaticAgreement(remotePub [32]byte) ([32]byte, error) {
	return RawX25519(id.agreementPrivate, remotePub)
}

// RawAgreement performs RawX25519 using an ephemeral keypair's private
// key.
func (p *EphemeralKXPair) RawAgreement(remotePub [32]byte) ([32]byte, error) {
	var priv [32]byte
	copy(priv[:], p.Private.Bytes())
	return RawX25519(priv, remotePub)
}
