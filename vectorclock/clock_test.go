// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package vectorclock

import (
	"encoding/json"
	"testing"
)

func TestGetAbsentPeerIsZero(t *testing.T) {
	c := New()
	if got := c.Get("ALICE"); got != 0 {
		t.Errorf("Get(absent) = %d, want 0", got)
	}
}

func TestIncrementIsPure(t *testing.T) {
	c := New()
	next := c.Increment("ALICE")

	if c.Get("ALICE") != 0 {
		t.Error("Increment mutated the receiver")
	}
	if next.Get("ALICE") != 1 {
		t.Errorf("next.Get(ALICE) = %d, want 1", next.Get("ALICE"))
	}

	third := next.Increment("ALICE")
	if third.Get("ALICE") != 2 {
		t.Errorf("third.Get(ALICE) = %d, want 2", third.Get("ALICE"))
	}
	if next.Get("ALICE") != 1 {
		t.Error("second Increment mutated an earlier clock")
	}
}

func TestMergeIsPointwiseMax(t *testing.T) {
	a := New().Increment("ALICE").Increment("ALICE").Increment("BOB")
	b := New().Increment("ALICE").Increment("CAROL").Increment("CAROL")

	merged := a.Merge(b)

	if merged.Get("ALICE") != 2 {
		t.Errorf("merged.Get(ALICE) = %d, want 2", merged.Get("ALICE"))
	}
	if merged.Get("BOB") != 1 {
		t.Errorf("merged.Get(BOB) = %d, want 1", merged.Get("BOB"))
	}
	if merged.Get("CAROL") != 2 {
		t.Errorf("merged.Get(CAROL) = %d, want 2", merged.Get("CAROL"))
	}

	if a.Get("CAROL") != 0 {
		t.Error("Merge mutated the receiver")
	}
	if b.Get("ALICE") != 1 {
		t.Error("Merge mutated the argument")
	}
}

func TestEqual(t *testing.T) {
	a := New().Increment("ALICE").Increment("BOB")
	b := New().Increment("BOB").Increment("ALICE")
	c := New().Increment("ALICE")

	if !a.Equal(b) {
		t.Error("expected clocks with the same entries in different insertion order to be equal")
	}
	if a.Equal(c) {
		t.Error("expected clocks with different entries to be unequal")
	}
}

func TestCanonicalIsSortedByPeerID(t *testing.T) {
	c := New().Increment("ZEBRA").Increment("ALPHA").Increment("ALPHA")

	got := c.Canonical()
	want := "ALPHA:2|ZEBRA:1"
	if got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestCanonicalEmptyClock(t *testing.T) {
	if got := New().Canonical(); got != "" {
		t.Errorf("Canonical() of empty clock = %q, want empty string", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := New().Increment("ALICE").Increment("ALICE").Increment("BOB")

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Clock
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !original.Equal(decoded) {
		t.Errorf("round-tripped clock %v != original %v", decoded, original)
	}
}

func TestJSONMarshalEmptyClock(t *testing.T) {
	data, err := json.Marshal(New())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("Marshal(empty) = %s, want {}", data)
	}
}
