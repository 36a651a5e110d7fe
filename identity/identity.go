// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/syncerr"
)

// Identity is a peer's persistent signing and key-agreement identity
// (spec §3 DeviceIdentity, §4.A). Created once on first [Initialize] and
// immutable thereafter; callers obtain one per process and share it.
type Identity struct {
	PeerID               string
	DeviceName           string
	IdentityPublicKey    ed25519.PublicKey
	KeyExchangePublicKey [32]byte
	CreatedAt            time.Time

	identityPrivate  ed25519.PrivateKey
	agreementPrivate [32]byte
}

// identityBlob is the persisted, base64-wrapped form of an Identity.
// Field names are part of the on-disk/SecureStorage wire format; do not
// rename without a migration.
type identityBlob struct {
	DeviceName          string    `json:"device_name"`
	IdentityPublicKey   string    `json:"identity_public_key"`
	IdentityPrivateKey  string    `json:"identity_private_key"`
	AgreementPublicKey  string    `json:"agreement_public_key"`
	AgreementPrivateKey string    `json:"agreement_private_key"`
	CreatedAt           time.Time `json:"created_at"`
}

var (
	initializeOnce sync.Once
	initialized    *Identity
	initializeErr  error
)

// Initialize loads the persisted identity from storage, generating and
// persisting a new one on first run, and derives peer_id from the
// identity public key (§4.A). It is guarded by a one-shot latch: the
// first call does the work (load-or-generate); every subsequent call in
// the process, regardless of arguments, returns the same result
// immediately (§5).
//
// deviceNameFallback is used only on first run, only if the host-derived
// name is unavailable.
func Initialize(ctx context.Context, storage SecureStorage, deviceNameFallback string) (*Identity, error) {
	return InitializeWithLogger(ctx, storage, deviceNameFallback, clock.Real(), nil)
}

// InitializeWithClock is [Initialize] with an injectable [clock.Clock],
// so tests can control the timestamp recorded for a freshly generated
// identity's CreatedAt.
func InitializeWithClock(ctx context.Context, storage SecureStorage, deviceNameFallback string, clk clock.Clock) (*Identity, error) {
	return InitializeWithLogger(ctx, storage, deviceNameFallback, clk, nil)
}

// InitializeWithLogger is [Initialize] with an injectable clock and
// logger. A nil logger discards log output.
func InitializeWithLogger(ctx context.Context, storage SecureStorage, deviceNameFallback string, clk clock.Clock, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	initializeOnce.Do(func() {
		initialized, initializeErr = loadOrGenerate(ctx, storage, deviceNameFallback, clk, logger)
	})
	return initialized, initializeErr
}

func loadOrGenerate(ctx context.Context, storage SecureStorage, deviceNameFallback string, clk clock.Clock, logger *slog.Logger) (*Identity, error) {
	raw, ok, err := storage.Get(ctx, storageKeyIdentity)
	if err != nil {
		return nil, syncerr.Wrap("identity.Initialize", syncerr.StorageFailure, "reading persisted identity: %v", err)
	}
	if ok {
		id, decodeErr := decodeIdentity(raw)
		if decodeErr == nil {
			return id, nil
		}
		logger.Warn("discarding corrupted identity blob, regenerating", "error", decodeErr)
	}

	id, err := GenerateEphemeral(resolveDeviceName(deviceNameFallback), clk)
	if err != nil {
		return nil, err
	}

	encoded, err := encodeIdentity(id)
	if err != nil {
		return nil, err
	}
	if err := storage.Set(ctx, storageKeyIdentity, encoded); err != nil {
		return nil, syncerr.Wrap("identity.Initialize", syncerr.StorageFailure, "persisting generated identity: %v", err)
	}
	return id, nil
}

// GenerateEphemeral generates a fresh Identity without touching the
// package-level singleton or any storage. Initialize is the right entry
// point for a real peer (its one-shot latch is what spec §5 describes);
// this constructor exists for callers that legitimately need more than
// one local identity in the same process — a multi-peer integration
// test, or a demo harness simulating several devices.
func GenerateEphemeral(deviceName string, clk clock.Clock) (*Identity, error) {
	identityPublic, identityPrivate, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, syncerr.Wrap("identity.GenerateEphemeral", syncerr.CryptographicFailure, "generating Ed25519 keypair: %v", err)
	}
	agreementPrivate, agreementPublic, err := generateX25519KeyPair()
	if err != nil {
		return nil, syncerr.Wrap("identity.GenerateEphemeral", syncerr.CryptographicFailure, "generating X25519 keypair: %v", err)
	}

	return &Identity{
		PeerID:               DerivePeerID(identityPublic),
		DeviceName:           deviceName,
		IdentityPublicKey:    identityPublic,
		KeyExchangePublicKey: agreementPublic,
		CreatedAt:            clk.Now(),
		identityPrivate:      identityPrivate,
		agreementPrivate:     agreementPrivate,
	}, nil
}

func resolveDeviceName(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	if fallback != "" {
		return fallback
	}
	return "Peer-0000"
}

func encodeIdentity(id *Identity) (string, error) {
	blob := identityBlob{
		DeviceName:          id.DeviceName,
		IdentityPublicKey:   base64.StdEncoding.EncodeToString(id.IdentityPublicKey),
		IdentityPrivateKey:  base64.StdEncoding.EncodeToString(id.identityPrivate),
		AgreementPublicKey:  base64.StdEncoding.EncodeToString(id.KeyExchangePublicKey[:]),
		AgreementPrivateKey: base64.StdEncoding.EncodeToString(id.agreementPrivate[:]),
		CreatedAt:           id.CreatedAt,
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return "", syncerr.Wrap("identity.encodeIdentity", syncerr.CryptographicFailure, "marshaling identity blob: %v", err)
	}
	return string(data), nil
}

func decodeIdentity(raw string) (*Identity, error) {
	var blob identityBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "unmarshaling identity blob: %v", err)
	}

	identityPublic, err := base64.StdEncoding.DecodeString(blob.IdentityPublicKey)
	if err != nil {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "decoding identity public key: %v", err)
	}
	identityPrivate, err := base64.StdEncoding.DecodeString(blob.IdentityPrivateKey)
	if err != nil {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "decoding identity private key: %v", err)
	}
	agreementPublic, err := base64.StdEncoding.DecodeString(blob.AgreementPublicKey)
	if err != nil {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "decoding agreement public key: %v", err)
	}
	agreementPrivate, err := base64.StdEncoding.DecodeString(blob.AgreementPrivateKey)
	if err != nil {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "decoding agreement private key: %v", err)
	}
	if len(identityPublic) != ed25519.PublicKeySize || len(identityPrivate) != ed25519.PrivateKeySize {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "malformed Ed25519 key lengths in persisted identity")
	}
	if len(agreementPublic) != 32 || len(agreementPrivate) != 32 {
		return nil, syncerr.Wrap("identity.decodeIdentity", syncerr.StorageFailure, "malformed X25519 key lengths in persisted identity")
	}

	id := &Identity{
		PeerID:            DerivePeerID(identityPublic),
		DeviceName:        blob.DeviceName,
		IdentityPublicKey: identityPublic,
		CreatedAt:         blob.CreatedAt,
		identityPrivate:   identityPrivate,
	}
	copy(id.KeyExchangePublicKey[:], agreementPublic)
	copy(id.agreementPrivate[:], agreementPrivate)
	return id, nil
}

// resetForTest undoes the one-shot latch. Only called from tests in this
// package; production code always observes a single Initialize.
func resetForTest() {
	initializeOnce = sync.Once{}
	initialized = nil
	initializeErr = nil
}
