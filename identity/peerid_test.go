// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"strings"
	"testing"
)

func TestDerivePeerIDLengthAndAlphabet(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	peerID := DerivePeerID(public)
	if len(peerID) != PeerIDLength {
		t.Errorf("len(peerID) = %d, want %d", len(peerID), PeerIDLength)
	}
	for _, r := range peerID {
		if !strings.ContainsRune(peerIDAlphabet, r) {
			t.Errorf("peerID contains character %q outside the Crockford base32 alphabet", r)
		}
	}
}

func TestDerivePeerIDDeterministic(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	if DerivePeerID(public) != DerivePeerID(public) {
		t.Error("expected DerivePeerID to be deterministic for the same key")
	}
}

func TestVerifyPeerIDSuccess(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	if err := VerifyPeerID(DerivePeerID(public), public); err != nil {
		t.Errorf("VerifyPeerID: %v", err)
	}
}

func TestVerifyPeerIDMismatch(t *testing.T) {
	public, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	if err := VerifyPeerID("0000000000", public); err == nil {
		t.Error("expected VerifyPeerID to reject a mismatched claimed PeerID")
	}
}
