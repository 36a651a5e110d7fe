// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"github.com/tabletop-sync/core/keyguard"
)

// FileStorage is a [SecureStorage] that persists its key/value pairs as a
// single age-encrypted file, sealed with a passphrase (scrypt-stretched,
// as filippo.io/age does for interactive secrets with no pre-exchanged
// recipient key). This is the reference SecureStorage implementation for
// single-user, single-machine deployments; multi-device or
// hardware-keystore-backed storage is out of core scope (spec §1) and is
// expected to implement [SecureStorage] directly.
type FileStorage struct {
	path       string
	passphrase *keyguard.Buffer

	mu      sync.Mutex
	entries map[string]string
	loaded  bool
}

// NewFileStorage returns a FileStorage persisting to path, sealed with
// passphrase. The passphrase is copied into guarded memory immediately;
// the caller's slice is zeroed.
func NewFileStorage(path string, passphrase []byte) (*FileStorage, error) {
	guarded, err := keyguard.NewFromBytes(passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: guarding storage passphrase: %w", err)
	}
	return &FileStorage{path: path, passphrase: guarded}, nil
}

// Close zeroizes the passphrase. The FileStorage must not be used after
// Close.
func (s *FileStorage) Close() error {
	return s.passphrase.Close()
}

func (s *FileStorage) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = make(map[string]string)
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: reading storage file %s: %w", s.path, err)
	}

	identity, err := age.NewScryptIdentity(string(s.passphrase.Bytes()))
	if err != nil {
		return fmt.Errorf("identity: building scrypt identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return fmt.Errorf("identity: decrypting storage file: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("identity: reading decrypted storage contents: %w", err)
	}
	defer keyguard.Zero(plaintext)

	entries := make(map[string]string)
	if len(plaintext) > 0 {
		if err := json.Unmarshal(plaintext, &entries); err != nil {
			return fmt.Errorf("identity: unmarshaling storage contents: %w", err)
		}
	}

	s.entries = entries
	s.loaded = true
	return nil
}

func (s *FileStorage) persist() error {
	plaintext, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("identity: marshaling storage contents: %w", err)
	}
	defer keyguard.Zero(plaintext)

	recipient, err := age.NewScryptRecipient(string(s.passphrase.Bytes()))
	if err != nil {
		return fmt.Errorf("identity: building scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("identity: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("identity: writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("identity: finalizing age encryption: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("identity: creating storage directory: %w", err)
	}
	if err := os.WriteFile(s.path, ciphertext.Bytes(), 0o600); err != nil {
		return fmt.Errorf("identity: writing storage file %s: %w", s.path, err)
	}
	return nil
}

// Set implements [SecureStorage].
func (s *FileStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.entries[key] = value
	return s.persist()
}

// Get implements [SecureStorage].
func (s *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return "", false, err
	}
	value, ok := s.entries[key]
	return value, ok, nil
}

// Remove implements [SecureStorage].
func (s *FileStorage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persist()
}
