// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/vectorclock"
)

// WireEvent is the wire representation of an event: a flat record
// mirroring eventlog.EventRecord but with the vector clock and body
// rendered as strings (spec §4.H, §6). Field names are part of the
// wire contract — camelCase, JSON — and must not be renamed.
type WireEvent struct {
	EventID         string             `json:"eventId"`
	SessionID       int64              `json:"sessionId"`
	Kind            eventlog.EventKind `json:"kind"`
	LamportClock    int64              `json:"lamportClock"`
	Timestamp       time.Time          `json:"timestamp"`
	VectorClockJSON string             `json:"vectorClockJson"`
	Parents         []string           `json:"parents,omitempty"`
	Payload         string             `json:"payload"`
}

// ToWire renders record as its wire representation.
func ToWire(record *eventlog.EventRecord) (WireEvent, error) {
	payload, err := json.Marshal(record.Body)
	if err != nil {
		return WireEvent{}, fmt.Errorf("gossip: marshaling event %s body: %w", record.EventID, err)
	}
	clockJSON, err := json.Marshal(record.VectorClock)
	if err != nil {
		return WireEvent{}, fmt.Errorf("gossip: marshaling event %s vector clock: %w", record.EventID, err)
	}

	return WireEvent{
		EventID:         record.EventID,
		SessionID:       record.SessionID,
		Kind:            record.Kind,
		LamportClock:    record.LamportClock,
		Timestamp:       record.Timestamp,
		VectorClockJSON: string(clockJSON),
		Parents:         record.Parents,
		Payload:         string(payload),
	}, nil
}

// FromWire parses w back into an EventRecord. The returned record's
// IsImported is left false; the caller (syncengine.Engine.Import) sets
// it once content-hash verification passes.
func FromWire(w WireEvent) (*eventlog.EventRecord, error) {
	var clock vectorclock.Clock
	if err := json.Unmarshal([]byte(w.VectorClockJSON), &clock); err != nil {
		return nil, fmt.Errorf("gossip: parsing vector clock for event %s: %w", w.EventID, err)
	}

	body, err := decodeBody(w.Kind, w.Payload)
	if err != nil {
		return nil, fmt.Errorf("gossip: parsing body for event %s: %w", w.EventID, err)
	}

	return &eventlog.EventRecord{
		EventID:      w.EventID,
		SessionID:    w.SessionID,
		Kind:         w.Kind,
		LamportClock: w.LamportClock,
		Timestamp:    w.Timestamp,
		Parents:      w.Parents,
		VectorClock:  clock,
		Body:         body,
	}, nil
}

func decodeBody(kind eventlog.EventKind, payload string) (eventlog.Body, error) {
	switch kind {
	case eventlog.KindChatMessage:
		var body eventlog.ChatMessageBody
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return nil, err
		}
		return body, nil
	case eventlog.KindPresence:
		var body eventlog.PresenceBody
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return nil, err
		}
		return body, nil
	case eventlog.KindFlagUpdate:
		var body eventlog.FlagUpdateBody
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return nil, err
		}
		return body, nil
	case eventlog.KindDiceRoll:
		var body eventlog.DiceRollBody
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			return nil, err
		}
		return body, nil
	default:
		return nil, fmt.Errorf("gossip: unrecognized event kind %d", kind)
	}
}

// EncodeBatch renders records as a wire batch: a JSON array of
// WireEvent, or the empty string for an empty batch (spec §4.H).
func EncodeBatch(records []*eventlog.EventRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	wire := make([]WireEvent, len(records))
	for i, record := range records {
		w, err := ToWire(record)
		if err != nil {
			return "", err
		}
		wire[i] = w
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("gossip: marshaling batch: %w", err)
	}
	return string(data), nil
}

// DecodeBatch parses a wire batch back into EventRecords. An empty
// string decodes to an empty, non-nil slice. Events whose body fails
// to parse are skipped and logged by the caller rather than aborting
// the whole batch — see [Round]'s use of this function.
func DecodeBatch(batch string) ([]*eventlog.EventRecord, []error) {
	if batch == "" {
		return []*eventlog.EventRecord{}, nil
	}

	var wire []WireEvent
	if err := json.Unmarshal([]byte(batch), &wire); err != nil {
		return nil, []error{fmt.Errorf("gossip: parsing batch: %w", err)}
	}

	records := make([]*eventlog.EventRecord, 0, len(wire))
	var parseErrs []error
	for _, w := range wire {
		record, err := FromWire(w)
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		records = append(records, record)
	}
	return records, parseErrs
}
