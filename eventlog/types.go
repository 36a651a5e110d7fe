// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/vectorclock"
)

// EventKind identifies the shape of an event's body. Wire numbers are
// stable and must never be renumbered — they are hashed into every
// event id (spec §3).
type EventKind uint8

const (
	KindChatMessage EventKind = 0
	KindPresence    EventKind = 1
	KindFlagUpdate  EventKind = 2
	KindDiceRoll    EventKind = 3
)

// String renders the kind's name, for logging.
func (k EventKind) String() string {
	switch k {
	case KindChatMessage:
		return "ChatMessage"
	case KindPresence:
		return "Presence"
	case KindFlagUpdate:
		return "FlagUpdate"
	case KindDiceRoll:
		return "DiceRoll"
	default:
		return "Unknown"
	}
}

// Body is implemented by every event payload type. Kind reports which
// EventKind the body belongs to, so a decoded EventRecord can be
// type-switched safely.
type Body interface {
	Kind() EventKind
}

// ChatMessageBody is the payload of a KindChatMessage event (spec §3).
type ChatMessageBody struct {
	MessageID    uuid.UUID `json:"messageId"`
	PeerID       string    `json:"peerId"`
	DeviceName   string    `json:"deviceName"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	AfterEventID string    `json:"afterEventId,omitempty"`
}

func (ChatMessageBody) Kind() EventKind { return KindChatMessage }

// PresenceBody is the payload of a KindPresence event (spec §3).
type PresenceBody struct {
	PeerID     string    `json:"peerId"`
	IsOnline   bool      `json:"isOnline"`
	Version    uint64    `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`
	DeviceName string    `json:"deviceName"`
	ChangeID   uuid.UUID `json:"changeId"`
	Status     string    `json:"status,omitempty"`
}

func (PresenceBody) Kind() EventKind { return KindPresence }

// FlagUpdateBody is the payload of a KindFlagUpdate event (spec §3).
// Value is nullable: nil means the key is deleted.
type FlagUpdateBody struct {
	Key       string    `json:"key"`
	Value     *string   `json:"value,omitempty"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	ChangeID  uuid.UUID `json:"changeId"`
}

func (FlagUpdateBody) Kind() EventKind { return KindFlagUpdate }

// DiceMode is the advantage/disadvantage mode of a dice roll.
type DiceMode string

const (
	DiceModeNormal      DiceMode = "Normal"
	DiceModeAdvantage   DiceMode = "Advantage"
	DiceModeDisadvantage DiceMode = "Disadvantage"
)

// DieComponent is one die's outcome within a roll.
type DieComponent struct {
	Value int  `json:"value"`
	Kept  bool `json:"kept"`
}

// DiceRollEvidence is the signed payload of a dice roll: every field a
// peer needs to independently recompute the total and verify
// provenance (spec §3).
type DiceRollEvidence struct {
	RollID                  uuid.UUID      `json:"rollId"`
	RollerPeerID            string         `json:"rollerPeerId"`
	RollerDeviceName        string         `json:"rollerDeviceName"`
	RollerIdentityPublicKey string         `json:"rollerIdentityPublicKey"`
	DiceCount               int            `json:"diceCount"`
	DiceSides               int            `json:"diceSides"`
	Modifier                int            `json:"modifier"`
	Mode                    DiceMode       `json:"mode"`
	Dice                    []DieComponent `json:"dice"`
	Total                   int            `json:"total"`
	CanonicalFormula        string         `json:"canonicalFormula"`
	Timestamp               time.Time      `json:"timestamp"`
}

// DiceRollBody is the payload of a KindDiceRoll event. Signature is the
// Ed25519 signature over the canonical JSON encoding of Evidence.
type DiceRollBody struct {
	Evidence  DiceRollEvidence `json:"evidence"`
	Signature string           `json:"signature"`
}

func (DiceRollBody) Kind() EventKind { return KindDiceRoll }

// EventRecord is one immutable entry in a session's event log (spec
// §3). EventID, once computed, is permanent — events are never
// mutated after persistence.
type EventRecord struct {
	EventID      string
	SessionID    int64
	Kind         EventKind
	LamportClock int64
	Timestamp    time.Time
	Parents      []string
	VectorClock  vectorclock.Clock
	Body         Body
	IsImported   bool
}
