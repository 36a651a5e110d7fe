// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package materializer

import (
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/identity"
)

// Materialize folds records — every event belonging to one session —
// into a SessionState (spec §4.E). The input need not be pre-sorted;
// Materialize establishes its own topological order before folding. A
// nil logger discards warnings (malformed dice-roll signatures, etc).
func Materialize(records []*eventlog.EventRecord, logger *slog.Logger) *SessionState {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ordered := topologicalOrder(records)

	state := &SessionState{
		Presence: make(map[string]PresenceState),
		Flags:    make(map[string]FlagState),
	}

	for _, record := range ordered {
		switch body := record.Body.(type) {
		case eventlog.ChatMessageBody:
			foldChatMessage(state, record, body)
		case eventlog.PresenceBody:
			foldPresence(state, record, body)
		case eventlog.FlagUpdateBody:
			foldFlagUpdate(state, record, body)
		case eventlog.DiceRollBody:
			foldDiceRoll(state, record, body, logger)
		default:
			logger.Warn("materializer: skipping event with unrecognized body type", "event_id", record.EventID)
		}
	}

	return state
}

func foldChatMessage(state *SessionState, record *eventlog.EventRecord, body eventlog.ChatMessageBody) {
	for _, existing := range state.Chat {
		if existing.MessageID == body.MessageID {
			return // duplicate message_id, discarded
		}
	}

	entry := ChatMessageState{
		EventID:      record.EventID,
		MessageID:    body.MessageID,
		PeerID:       body.PeerID,
		DeviceName:   body.DeviceName,
		Content:      body.Content,
		CreatedAt:    body.CreatedAt,
		AfterEventID: body.AfterEventID,
	}

	if body.AfterEventID == "" {
		state.Chat = append(state.Chat, entry)
		return
	}

	for i, existing := range state.Chat {
		if existing.EventID == body.AfterEventID {
			state.Chat = append(state.Chat[:i+1], append([]ChatMessageState{entry}, state.Chat[i+1:]...)...)
			return
		}
	}
	// Anchor not present (yet): append at end, per spec §4.E.
	state.Chat = append(state.Chat, entry)
}

func foldPresence(state *SessionState, record *eventlog.EventRecord, body eventlog.PresenceBody) {
	candidate := PresenceState{
		EventID:    record.EventID,
		PeerID:     body.PeerID,
		IsOnline:   body.IsOnline,
		Version:    body.Version,
		UpdatedAt:  body.UpdatedAt,
		DeviceName: body.DeviceName,
		Status:     body.Status,
	}

	current, ok := state.Presence[body.PeerID]
	if !ok || winsTieBreak(candidate.Version, candidate.UpdatedAt, candidate.EventID, current.Version, current.UpdatedAt, current.EventID) {
		state.Presence[body.PeerID] = candidate
	}
}

func foldFlagUpdate(state *SessionState, record *eventlog.EventRecord, body eventlog.FlagUpdateBody) {
	current, ok := state.Flags[body.Key]
	candidateWins := !ok || winsTieBreak(body.Version, body.UpdatedAt, record.EventID, current.Version, current.UpdatedAt, current.EventID)
	if !candidateWins {
		return
	}

	if body.Value == nil {
		delete(state.Flags, body.Key)
		return
	}

	state.Flags[body.Key] = FlagState{
		EventID:   record.EventID,
		Key:       body.Key,
		Value:     *body.Value,
		Version:   body.Version,
		UpdatedAt: body.UpdatedAt,
	}
}

// winsTieBreak reports whether the candidate (version, updatedAt,
// eventID) wins over the current one, per the tie-break order in spec
// §4.E: higher version, else higher updated_at, else lexicographically
// greater event_id.
func winsTieBreak(candidateVersion uint64, candidateUpdatedAt time.Time, candidateEventID string,
	currentVersion uint64, currentUpdatedAt time.Time, currentEventID string) bool {
	if candidateVersion != currentVersion {
		return candidateVersion > currentVersion
	}
	if !candidateUpdatedAt.Equal(currentUpdatedAt) {
		return candidateUpdatedAt.After(currentUpdatedAt)
	}
	return candidateEventID > currentEventID
}

func foldDiceRoll(state *SessionState, record *eventlog.EventRecord, body eventlog.DiceRollBody, logger *slog.Logger) {
	entry := DiceRollState{
		EventID:  record.EventID,
		Evidence: body.Evidence,
	}

	valid, err := verifyDiceRollSignature(body)
	if err != nil {
		logger.Warn("materializer: dice roll signature could not be verified", "event_id", record.EventID, "error", err)
	}
	entry.SignatureValid = valid

	state.DiceHistory = append(state.DiceHistory, entry)
}

func verifyDiceRollSignature(body eventlog.DiceRollBody) (bool, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(body.Evidence.RollerIdentityPublicKey)
	if err != nil {
		return false, err
	}
	if len(publicKeyBytes) != ed25519.PublicKeySize {
		return false, nil
	}

	signature, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		return false, err
	}

	canonical, err := eventlog.CanonicalEvidenceBytes(body.Evidence)
	if err != nil {
		return false, err
	}

	return identity.Verify(canonical, signature, ed25519.PublicKey(publicKeyBytes)), nil
}
