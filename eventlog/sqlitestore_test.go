// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/vectorclock"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func chatRecord(t *testing.T, sessionID int64, lamport int64, parents []string, content string) *EventRecord {
	t.Helper()
	record := &EventRecord{
		SessionID:    sessionID,
		Kind:         KindChatMessage,
		LamportClock: lamport,
		Timestamp:    time.Now().UTC(),
		Parents:      parents,
		VectorClock:  vectorclock.New().Increment("ALICE"),
		Body: ChatMessageBody{
			MessageID:  uuid.New(),
			PeerID:     "ALICE",
			DeviceName: "Alice's Tablet",
			Content:    content,
			CreatedAt:  time.Now().UTC(),
		},
	}
	id, err := ComputeEventID(record)
	if err != nil {
		t.Fatalf("ComputeEventID: %v", err)
	}
	record.EventID = id
	return record
}

func TestAppendAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := chatRecord(t, 1, 1, nil, "hello")
	if err := store.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	second := chatRecord(t, 1, 2, []string{first.EventID}, "world")
	if err := store.Append(ctx, second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].EventID != first.EventID || records[1].EventID != second.EventID {
		t.Error("expected records ordered by lamport clock ascending")
	}

	body, ok := records[0].Body.(ChatMessageBody)
	if !ok {
		t.Fatalf("records[0].Body is %T, want ChatMessageBody", records[0].Body)
	}
	if body.Content != "hello" {
		t.Errorf("Content = %q, want %q", body.Content, "hello")
	}
}

func TestHeadsExcludesParents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := chatRecord(t, 1, 1, nil, "first")
	store.Append(ctx, first)
	second := chatRecord(t, 1, 2, []string{first.EventID}, "second")
	store.Append(ctx, second)

	heads, err := store.Heads(ctx, 1)
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != second.EventID {
		t.Errorf("Heads = %v, want [%s]", heads, second.EventID)
	}
}

func TestHeadsEmptyForFreshSession(t *testing.T) {
	store := openTestStore(t)
	heads, err := store.Heads(context.Background(), 42)
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 0 {
		t.Errorf("expected no heads for a fresh session, got %v", heads)
	}
}

func TestLookupExistingIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := chatRecord(t, 1, 1, nil, "first")
	store.Append(ctx, first)

	existing, err := store.LookupExistingIDs(ctx, []string{first.EventID, "DOES-NOT-EXIST"})
	if err != nil {
		t.Fatalf("LookupExistingIDs: %v", err)
	}
	if !existing[first.EventID] {
		t.Error("expected first.EventID to be reported as existing")
	}
	if existing["DOES-NOT-EXIST"] {
		t.Error("expected unknown id to be reported as absent")
	}
}

func TestListMissingExcludesKnown(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := chatRecord(t, 1, 1, nil, "first")
	store.Append(ctx, first)
	second := chatRecord(t, 1, 2, []string{first.EventID}, "second")
	store.Append(ctx, second)

	missing, err := store.ListMissing(ctx, 1, map[string]bool{first.EventID: true})
	if err != nil {
		t.Fatalf("ListMissing: %v", err)
	}
	if len(missing) != 1 || missing[0].EventID != second.EventID {
		t.Errorf("ListMissing = %v, want only %s", missing, second.EventID)
	}
}

func TestMaxLamportClock(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if max, err := store.MaxLamportClock(ctx); err != nil || max != 0 {
		t.Fatalf("MaxLamportClock (empty) = %d, %v, want 0, nil", max, err)
	}

	store.Append(ctx, chatRecord(t, 1, 5, nil, "a"))
	store.Append(ctx, chatRecord(t, 2, 9, nil, "b"))

	max, err := store.MaxLamportClock(ctx)
	if err != nil {
		t.Fatalf("MaxLamportClock: %v", err)
	}
	if max != 9 {
		t.Errorf("MaxLamportClock = %d, want 9", max)
	}
}
