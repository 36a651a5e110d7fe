// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package materializer

import (
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/eventlog"
)

// SessionState is the read-only materialized view of one session's
// event log (spec §3).
type SessionState struct {
	Chat        []ChatMessageState
	Presence    map[string]PresenceState
	Flags       map[string]FlagState
	DiceHistory []DiceRollState
}

// ChatMessageState is one entry in the materialized chat transcript.
type ChatMessageState struct {
	EventID      string
	MessageID    uuid.UUID
	PeerID       string
	DeviceName   string
	Content      string
	CreatedAt    time.Time
	AfterEventID string
}

// PresenceState is the last-writer-wins presence record for one peer.
type PresenceState struct {
	EventID    string
	PeerID     string
	IsOnline   bool
	Version    uint64
	UpdatedAt  time.Time
	DeviceName string
	Status     string
}

// FlagState is the last-writer-wins record for one flag key.
type FlagState struct {
	EventID   string
	Key       string
	Value     string
	Version   uint64
	UpdatedAt time.Time
}

// DiceRollState is one entry in the materialized dice history.
type DiceRollState struct {
	EventID        string
	Evidence       eventlog.DiceRollEvidence
	SignatureValid bool
}
