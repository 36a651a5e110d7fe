// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tabletop-sync/core/clock"
)

var testTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// memStorage is a minimal in-memory SecureStorage for tests.
type memStorage struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{entries: make(map[string]string)}
}

func (s *memStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
	return nil
}

func (s *memStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok, nil
}

func (s *memStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func TestLoadOrGenerateCreatesAndPersists(t *testing.T) {
	storage := newMemStorage()
	fake := clock.Fake(testTime)

	id, err := loadOrGenerate(context.Background(), storage, "Peer-0001", fake, nil)
	if err != nil {
		t.Fatalf("loadOrGenerate: %v", err)
	}
	if id.PeerID == "" {
		t.Fatal("expected non-empty PeerID")
	}
	if len(id.PeerID) != PeerIDLength {
		t.Errorf("PeerID length = %d, want %d", len(id.PeerID), PeerIDLength)
	}
	if !id.CreatedAt.Equal(fake.Now()) {
		t.Errorf("CreatedAt = %v, want %v", id.CreatedAt, fake.Now())
	}

	raw, ok, err := storage.Get(context.Background(), storageKeyIdentity)
	if err != nil || !ok {
		t.Fatalf("expected persisted identity blob, ok=%v err=%v", ok, err)
	}
	if raw == "" {
		t.Fatal("expected non-empty persisted blob")
	}
}

func TestLoadOrGenerateReloadsPersistedIdentity(t *testing.T) {
	storage := newMemStorage()
	fake := clock.Fake(testTime)

	first, err := loadOrGenerate(context.Background(), storage, "Peer-0001", fake, nil)
	if err != nil {
		t.Fatalf("loadOrGenerate (first): %v", err)
	}

	second, err := loadOrGenerate(context.Background(), storage, "Peer-0002", fake, nil)
	if err != nil {
		t.Fatalf("loadOrGenerate (second): %v", err)
	}

	if second.PeerID != first.PeerID {
		t.Errorf("reloaded PeerID = %q, want %q", second.PeerID, first.PeerID)
	}
	if second.DeviceName != first.DeviceName {
		t.Errorf("reloaded DeviceName = %q, want %q (should not re-apply fallback)", second.DeviceName, first.DeviceName)
	}
}

func TestInitializeIsOneShot(t *testing.T) {
	resetForTest()
	defer resetForTest()

	storage := newMemStorage()
	first, err := Initialize(context.Background(), storage, "Peer-0001")
	if err != nil {
		t.Fatalf("Initialize (first): %v", err)
	}

	otherStorage := newMemStorage()
	second, err := Initialize(context.Background(), otherStorage, "Peer-9999")
	if err != nil {
		t.Fatalf("Initialize (second): %v", err)
	}

	if second != first {
		t.Error("expected second Initialize call to return the same Identity, ignoring its arguments")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	storage := newMemStorage()
	fake := clock.Fake(testTime)

	original, err := loadOrGenerate(context.Background(), storage, "Peer-0001", fake, nil)
	if err != nil {
		t.Fatalf("loadOrGenerate: %v", err)
	}

	encoded, err := encodeIdentity(original)
	if err != nil {
		t.Fatalf("encodeIdentity: %v", err)
	}

	decoded, err := decodeIdentity(encoded)
	if err != nil {
		t.Fatalf("decodeIdentity: %v", err)
	}

	if decoded.PeerID != original.PeerID {
		t.Errorf("PeerID = %q, want %q", decoded.PeerID, original.PeerID)
	}
	if decoded.KeyExchangePublicKey != original.KeyExchangePublicKey {
		t.Error("KeyExchangePublicKey mismatch after round-trip")
	}
	message := []byte("round-trip signing check")
	if !Verify(message, decoded.Sign(message), decoded.IdentityPublicKey) {
		t.Error("signature from decoded identity did not verify")
	}
}
