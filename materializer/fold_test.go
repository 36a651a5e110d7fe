// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package materializer

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/vectorclock"
)

func makeEvent(t *testing.T, sessionID int64, lamport int64, parents []string, body eventlog.Body) *eventlog.EventRecord {
	t.Helper()
	record := &eventlog.EventRecord{
		SessionID:    sessionID,
		Kind:         body.Kind(),
		LamportClock: lamport,
		Timestamp:    time.Now().UTC(),
		Parents:      parents,
		VectorClock:  vectorclock.New().Increment("ALICE"),
		Body:         body,
	}
	id, err := eventlog.ComputeEventID(record)
	if err != nil {
		t.Fatalf("ComputeEventID: %v", err)
	}
	record.EventID = id
	return record
}

func TestMaterializeChatOrdering(t *testing.T) {
	first := makeEvent(t, 1, 1, nil, eventlog.ChatMessageBody{
		MessageID: uuid.New(), PeerID: "ALICE", Content: "hello",
	})
	second := makeEvent(t, 1, 2, []string{first.EventID}, eventlog.ChatMessageBody{
		MessageID: uuid.New(), PeerID: "BOB", Content: "hi",
	})

	state := Materialize([]*eventlog.EventRecord{second, first}, nil)

	if len(state.Chat) != 2 {
		t.Fatalf("len(Chat) = %d, want 2", len(state.Chat))
	}
	if state.Chat[0].Content != "hello" || state.Chat[1].Content != "hi" {
		t.Errorf("unexpected chat order: %+v", state.Chat)
	}
}

func TestMaterializeChatAnchoredInsert(t *testing.T) {
	first := makeEvent(t, 1, 1, nil, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "A"})
	second := makeEvent(t, 1, 2, []string{first.EventID}, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "B"})
	inserted := makeEvent(t, 1, 3, []string{second.EventID}, eventlog.ChatMessageBody{
		MessageID: uuid.New(), Content: "inserted-after-A", AfterEventID: first.EventID,
	})

	state := Materialize([]*eventlog.EventRecord{first, second, inserted}, nil)

	if len(state.Chat) != 3 {
		t.Fatalf("len(Chat) = %d, want 3", len(state.Chat))
	}
	got := []string{state.Chat[0].Content, state.Chat[1].Content, state.Chat[2].Content}
	want := []string{"A", "inserted-after-A", "B"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Chat[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestMaterializeChatDuplicateMessageIDDiscarded(t *testing.T) {
	messageID := uuid.New()
	first := makeEvent(t, 1, 1, nil, eventlog.ChatMessageBody{MessageID: messageID, Content: "first"})
	duplicate := makeEvent(t, 1, 2, []string{first.EventID}, eventlog.ChatMessageBody{MessageID: messageID, Content: "duplicate"})

	state := Materialize([]*eventlog.EventRecord{first, duplicate}, nil)
	if len(state.Chat) != 1 {
		t.Fatalf("len(Chat) = %d, want 1 (duplicate message_id should be discarded)", len(state.Chat))
	}
}

func TestMaterializePresenceTieBreakByVersion(t *testing.T) {
	older := makeEvent(t, 1, 1, nil, eventlog.PresenceBody{
		PeerID: "ALICE", IsOnline: false, Version: 1, UpdatedAt: time.Unix(100, 0),
	})
	newer := makeEvent(t, 1, 2, []string{older.EventID}, eventlog.PresenceBody{
		PeerID: "ALICE", IsOnline: true, Version: 2, UpdatedAt: time.Unix(50, 0), // earlier wall clock, higher version
	})

	state := Materialize([]*eventlog.EventRecord{older, newer}, nil)
	presence, ok := state.Presence["ALICE"]
	if !ok {
		t.Fatal("expected a presence entry for ALICE")
	}
	if !presence.IsOnline {
		t.Error("expected higher-version update to win regardless of wall-clock order")
	}
}

func TestMaterializeFlagUpdateDeleteOnNullValue(t *testing.T) {
	value := "dark"
	set := makeEvent(t, 1, 1, nil, eventlog.FlagUpdateBody{Key: "theme", Value: &value, Version: 1, UpdatedAt: time.Unix(1, 0)})
	deleted := makeEvent(t, 1, 2, []string{set.EventID}, eventlog.FlagUpdateBody{Key: "theme", Value: nil, Version: 2, UpdatedAt: time.Unix(2, 0)})

	state := Materialize([]*eventlog.EventRecord{set, deleted}, nil)
	if _, ok := state.Flags["theme"]; ok {
		t.Error("expected flag to be removed after a higher-version null-value update")
	}
}

func TestMaterializeFlagUpdateLowerVersionDoesNotOverwrite(t *testing.T) {
	valueA := "dark"
	valueB := "light"
	first := makeEvent(t, 1, 2, nil, eventlog.FlagUpdateBody{Key: "theme", Value: &valueA, Version: 2, UpdatedAt: time.Unix(2, 0)})
	stale := makeEvent(t, 1, 1, []string{first.EventID}, eventlog.FlagUpdateBody{Key: "theme", Value: &valueB, Version: 1, UpdatedAt: time.Unix(3, 0)})

	state := Materialize([]*eventlog.EventRecord{first, stale}, nil)
	if state.Flags["theme"].Value != "dark" {
		t.Errorf("Flags[theme].Value = %q, want %q", state.Flags["theme"].Value, "dark")
	}
}

func TestMaterializeDiceRollSignatureValid(t *testing.T) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	evidence := eventlog.DiceRollEvidence{
		RollID:                  uuid.New(),
		RollerPeerID:            "ALICE",
		RollerIdentityPublicKey: base64.StdEncoding.EncodeToString(public),
		DiceCount:               1,
		DiceSides:               20,
		Dice:                    []eventlog.DieComponent{{Value: 15, Kept: true}},
		Total:                   15,
		CanonicalFormula:        "1d20",
		Timestamp:               time.Now().UTC(),
	}
	canonical, err := eventlog.CanonicalEvidenceBytes(evidence)
	if err != nil {
		t.Fatalf("CanonicalEvidenceBytes: %v", err)
	}
	signature := ed25519.Sign(private, canonical)

	record := makeEvent(t, 1, 1, nil, eventlog.DiceRollBody{
		Evidence:  evidence,
		Signature: base64.StdEncoding.EncodeToString(signature),
	})

	state := Materialize([]*eventlog.EventRecord{record}, nil)
	if len(state.DiceHistory) != 1 {
		t.Fatalf("len(DiceHistory) = %d, want 1", len(state.DiceHistory))
	}
	if !state.DiceHistory[0].SignatureValid {
		t.Error("expected a correctly signed dice roll to verify")
	}
}

func TestMaterializeDiceRollTamperedSignatureInvalid(t *testing.T) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}

	evidence := eventlog.DiceRollEvidence{
		RollID:                  uuid.New(),
		RollerIdentityPublicKey: base64.StdEncoding.EncodeToString(public),
		Total:                   15,
		CanonicalFormula:        "1d20",
	}
	canonical, err := eventlog.CanonicalEvidenceBytes(evidence)
	if err != nil {
		t.Fatalf("CanonicalEvidenceBytes: %v", err)
	}
	signature := ed25519.Sign(private, canonical)
	evidence.Total = 20 // tamper after signing

	record := makeEvent(t, 1, 1, nil, eventlog.DiceRollBody{
		Evidence:  evidence,
		Signature: base64.StdEncoding.EncodeToString(signature),
	})

	state := Materialize([]*eventlog.EventRecord{record}, nil)
	if state.DiceHistory[0].SignatureValid {
		t.Error("expected tampered dice roll evidence to fail signature verification")
	}
}

func TestMaterializeOrphanParentTolerated(t *testing.T) {
	event := makeEvent(t, 1, 1, []string{"UNKNOWN-ANCESTOR"}, eventlog.ChatMessageBody{MessageID: uuid.New(), Content: "x"})

	state := Materialize([]*eventlog.EventRecord{event}, nil)
	if len(state.Chat) != 1 {
		t.Fatalf("expected the event with an orphan parent to still materialize, got %d chat entries", len(state.Chat))
	}
}
