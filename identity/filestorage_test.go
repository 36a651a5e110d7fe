// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileStorageSetGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	storage, err := NewFileStorage(path, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	defer storage.Close()

	ctx := context.Background()

	if _, ok, err := storage.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get on empty storage: ok=%v err=%v", ok, err)
	}

	if err := storage.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := storage.Get(ctx, "key")
	if err != nil || !ok || value != "value" {
		t.Fatalf("Get after Set: value=%q ok=%v err=%v", value, ok, err)
	}

	if err := storage.Remove(ctx, "key"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := storage.Get(ctx, "key"); err != nil || ok {
		t.Fatalf("Get after Remove: ok=%v err=%v", ok, err)
	}
}

func TestFileStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	passphrase := []byte("correct horse battery staple")
	ctx := context.Background()

	first, err := NewFileStorage(path, append([]byte(nil), passphrase...))
	if err != nil {
		t.Fatalf("NewFileStorage (first): %v", err)
	}
	if err := first.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewFileStorage(path, append([]byte(nil), passphrase...))
	if err != nil {
		t.Fatalf("NewFileStorage (second): %v", err)
	}
	defer second.Close()

	value, ok, err := second.Get(ctx, "key")
	if err != nil || !ok || value != "value" {
		t.Fatalf("Get from reopened storage: value=%q ok=%v err=%v", value, ok, err)
	}
}

func TestFileStorageWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	ctx := context.Background()

	first, err := NewFileStorage(path, []byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewFileStorage (first): %v", err)
	}
	if err := first.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	first.Close()

	second, err := NewFileStorage(path, []byte("wrong passphrase"))
	if err != nil {
		t.Fatalf("NewFileStorage (second): %v", err)
	}
	defer second.Close()

	if _, _, err := second.Get(ctx, "key"); err == nil {
		t.Error("expected Get with wrong passphrase to fail")
	}
}
