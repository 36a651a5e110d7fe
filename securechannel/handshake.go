// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/identity"
	"github.com/tabletop-sync/core/syncerr"
)

// handshakeMessage is the wire payload of both HandshakeHello and
// HandshakeAck frames (spec §4.G): the only difference between the two
// is who sends first and that the session id must match on the ack.
type handshakeMessage struct {
	SessionID             string `json:"sessionId"`
	PeerID                string `json:"peerId"`
	DeviceName            string `json:"deviceName"`
	IdentityPublicKey     string `json:"identityPublicKey"`
	KeyExchangePublicKey  string `json:"keyExchangePublicKey"`
	EphemeralPublicKey    string `json:"ephemeralPublicKey"`
	Signature             string `json:"signature"`
}

// signedTranscript returns session_id_bytes || ephemeral_public ||
// key_exchange_public, the exact bytes the handshake signature covers
// (spec §4.G).
func signedTranscript(sessionID [16]byte, ephemeralPublic, keyExchangePublic [32]byte) []byte {
	out := make([]byte, 0, 16+32+32)
	out = append(out, sessionID[:]...)
	out = append(out, ephemeralPublic[:]...)
	out = append(out, keyExchangePublic[:]...)
	return out
}

func buildHandshakeMessage(id *identity.Identity, sessionID [16]byte, ephemeralPublic [32]byte) handshakeMessage {
	signature := id.Sign(signedTranscript(sessionID, ephemeralPublic, id.KeyExchangePublicKey))
	return handshakeMessage{
		SessionID:            base64.StdEncoding.EncodeToString(sessionID[:]),
		PeerID:               id.PeerID,
		DeviceName:           id.DeviceName,
		IdentityPublicKey:    base64.StdEncoding.EncodeToString(id.IdentityPublicKey),
		KeyExchangePublicKey: base64.StdEncoding.EncodeToString(id.KeyExchangePublicKey[:]),
		EphemeralPublicKey:   base64.StdEncoding.EncodeToString(ephemeralPublic[:]),
		Signature:            base64.StdEncoding.EncodeToString(signature),
	}
}

// remotePeer is the verified, decoded form of a peer's handshake
// message: raw keys instead of base64 strings, ready for DH and for
// comparison against an expected peer id.
type remotePeer struct {
	SessionID            [16]byte
	PeerID               string
	DeviceName           string
	IdentityPublicKey    ed25519.PublicKey
	KeyExchangePublicKey [32]byte
	EphemeralPublicKey   [32]byte
}

// verifyHandshakeMessage decodes msg, checks that peer_id matches the
// fingerprint of the presented identity key, and verifies the Ed25519
// signature over the transcript (spec §4.G).
func verifyHandshakeMessage(msg handshakeMessage) (*remotePeer, error) {
	sessionIDBytes, err := base64.StdEncoding.DecodeString(msg.SessionID)
	if err != nil || len(sessionIDBytes) != 16 {
		return nil, fmt.Errorf("securechannel: decoding handshake session id: %w", err)
	}
	identityKeyBytes, err := base64.StdEncoding.DecodeString(msg.IdentityPublicKey)
	if err != nil || len(identityKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("securechannel: decoding handshake identity key: %w", err)
	}
	kxKeyBytes, err := base64.StdEncoding.DecodeString(msg.KeyExchangePublicKey)
	if err != nil || len(kxKeyBytes) != 32 {
		return nil, fmt.Errorf("securechannel: decoding handshake key-exchange key: %w", err)
	}
	ephemeralBytes, err := base64.StdEncoding.DecodeString(msg.EphemeralPublicKey)
	if err != nil || len(ephemeralBytes) != 32 {
		return nil, fmt.Errorf("securechannel: decoding handshake ephemeral key: %w", err)
	}
	signature, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return nil, fmt.Errorf("securechannel: decoding handshake signature: %w", err)
	}

	peer := &remotePeer{
		PeerID:            msg.PeerID,
		DeviceName:        msg.DeviceName,
		IdentityPublicKey: ed25519.PublicKey(identityKeyBytes),
	}
	copy(peer.SessionID[:], sessionIDBytes)
	copy(peer.KeyExchangePublicKey[:], kxKeyBytes)
	copy(peer.EphemeralPublicKey[:], ephemeralBytes)

	if err := identity.VerifyPeerID(peer.PeerID, peer.IdentityPublicKey); err != nil {
		return nil, err
	}

	transcript := signedTranscript(peer.SessionID, peer.EphemeralPublicKey, peer.KeyExchangePublicKey)
	if !identity.Verify(transcript, signature, peer.IdentityPublicKey) {
		return nil, syncerr.Wrap("securechannel.verifyHandshakeMessage", syncerr.HandshakeSignatureInvalid,
			"peer %s", peer.PeerID)
	}

	return peer, nil
}

func newSessionID() [16]byte {
	var id [16]byte
	u := uuid.New()
	copy(id[:], u[:])
	return id
}

func transcriptHash(helloBytes, ackBytes []byte) [32]byte {
	h := sha256.New()
	h.Write(helloBytes)
	h.Write(ackBytes)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// writeHandshakeFrame marshals msg and writes it as a frame, returning
// the exact bytes sent so the caller can fold them into the transcript
// hash later.
func writeHandshakeFrame(w io.Writer, code FrameCode, msg handshakeMessage) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("securechannel: encoding handshake message: %w", err)
	}
	if err := writeFrame(w, code, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func readHandshakeFrame(r io.Reader, want FrameCode) (handshakeMessage, []byte, error) {
	var msg handshakeMessage
	code, payload, err := readFrame(r)
	if err != nil {
		return msg, nil, err
	}
	if code != want {
		return msg, nil, fmt.Errorf("securechannel: expected %s frame, got %s", want, code)
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, nil, fmt.Errorf("securechannel: decoding handshake message: %w", err)
	}
	return msg, payload, nil
}

// handshakeResult carries everything channel construction needs after a
// successful handshake: the four shared secrets (already combined and
// HKDF-expanded into send/receive keys), the session id, and the
// verified remote peer descriptor.
type handshakeResult struct {
	SessionID  [16]byte
	Remote     *remotePeer
	SendKey    [32]byte
	ReceiveKey [32]byte
}

// runHandshake performs the full mutual handshake over conn. initiator
// is true for the dialing side, which picks the session id and sends
// HandshakeHello first.
func runHandshake(ctx context.Context, conn io.ReadWriter, id *identity.Identity, initiator bool) (*handshakeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Wrap("securechannel.runHandshake", syncerr.Cancelled, "%v", err)
	}

	ephemeral, err := identity.GenerateEphemeralKXPair()
	if err != nil {
		return nil, fmt.Errorf("securechannel: generating ephemeral handshake key: %w", err)
	}
	defer ephemeral.Close()

	var (
		sessionID            [16]byte
		helloBytes, ackBytes []byte
		remote               *remotePeer
	)

	if initiator {
		sessionID = newSessionID()
		hello := buildHandshakeMessage(id, sessionID, ephemeral.Public)
		helloBytes, err = writeHandshakeFrame(conn, FrameHandshakeHello, hello)
		if err != nil {
			return nil, err
		}

		ackMsg, raw, err := readHandshakeFrame(conn, FrameHandshakeAck)
		if err != nil {
			return nil, err
		}
		ackBytes = raw
		remote, err = verifyHandshakeMessage(ackMsg)
		if err != nil {
			return nil, err
		}
		if remote.SessionID != sessionID {
			return nil, syncerr.Wrap("securechannel.runHandshake", syncerr.SessionMismatch,
				"hello session differs from ack session")
		}
	} else {
		helloMsg, raw, err := readHandshakeFrame(conn, FrameHandshakeHello)
		if err != nil {
			return nil, err
		}
		helloBytes = raw
		remote, err = verifyHandshakeMessage(helloMsg)
		if err != nil {
			return nil, err
		}
		sessionID = remote.SessionID

		ack := buildHandshakeMessage(id, sessionID, ephemeral.Public)
		ackBytes, err = writeHandshakeFrame(conn, FrameHandshakeAck, ack)
		if err != nil {
			return nil, err
		}
	}

	s1, err := ephemeral.RawAgreement(remote.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("securechannel: deriving s1 (ephemeral-ephemeral): %w", err)
	}
	sEphStatic, err := ephemeral.RawAgreement(remote.KeyExchangePublicKey)
	if err != nil {
		return nil, fmt.Errorf("securechannel: deriving ephemeral-static secret: %w", err)
	}
	sStaticEph, err := id.RawStaticAgreement(remote.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("securechannel: deriving static-ephemeral secret: %w", err)
	}
	s4, err := id.RawStaticAgreement(remote.KeyExchangePublicKey)
	if err != nil {
		return nil, fmt.Errorf("securechannel: deriving s4 (static-static): %w", err)
	}

	// The initiator's s2 is ephemeral-static (bound to the remote's
	// static key) and s3 is static-ephemeral (bound to its own static
	// key). The responder computes the same two DHs in the opposite
	// roles, so it swaps them here to land on the same ikm (spec §4.G
	// step 2).
	var s2, s3 [32]byte
	if initiator {
		s2, s3 = sEphStatic, sStaticEph
	} else {
		s2, s3 = sStaticEph, sEphStatic
	}

	transcript := transcriptHash(helloBytes, ackBytes)

	ikm := make([]byte, 0, 128)
	ikm = append(ikm, s1[:]...)
	ikm = append(ikm, s2[:]...)
	ikm = append(ikm, s3[:]...)
	ikm = append(ikm, s4[:]...)

	keyMaterial, err := deriveChannelKeys(ikm, transcript[:])
	if err != nil {
		return nil, err
	}

	result := &handshakeResult{SessionID: sessionID, Remote: remote}
	if initiator {
		copy(result.SendKey[:], keyMaterial[:32])
		copy(result.ReceiveKey[:], keyMaterial[32:])
	} else {
		copy(result.SendKey[:], keyMaterial[32:])
		copy(result.ReceiveKey[:], keyMaterial[:32])
	}
	return result, nil
}
