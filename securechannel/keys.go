// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// channelKeyInfo is the fixed HKDF info string for channel key
// derivation (spec §4.G step 4).
const channelKeyInfo = "dndgame:p2p"

// deriveChannelKeys runs HKDF-SHA-256 over ikm (the concatenation of
// the four handshake DH secrets) salted with the transcript hash,
// producing 64 bytes: the first 32 are the initiator's send key, the
// last 32 its receive key (spec §4.G steps 4-5; role swap is applied
// by the caller).
func deriveChannelKeys(ikm, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, ikm, salt, []byte(channelKeyInfo))
	keyMaterial := make([]byte, 64)
	if _, err := io.ReadFull(reader, keyMaterial); err != nil {
		return nil, fmt.Errorf("securechannel: deriving channel keys: %w", err)
	}
	return keyMaterial, nil
}
