// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/tabletop-sync/core/syncerr"
)

// fieldSeparator is the literal byte joining fields of the canonical
// pre-image (spec §4.C).
const fieldSeparator = 0x7C

// CanonicalBytes builds the canonical pre-image hashed into an event's
// id: session_id | kind_number | lamport | timestamp_millis_unix |
// vector_clock_canonical | parent_id_1 | … | parent_id_N | payload_json
// with parents sorted ordinally ascending and payload_json the
// camelCase, whitespace-free, null-omitted JSON encoding of the body
// (spec §4.C). The result is independent of record.EventID and
// record.IsImported — those are not part of what gets hashed.
func CanonicalBytes(record *EventRecord) ([]byte, error) {
	payload, err := json.Marshal(record.Body)
	if err != nil {
		return nil, syncerr.Wrap("eventlog.CanonicalBytes", syncerr.CryptographicFailure, "marshaling event body: %v", err)
	}

	parents := append([]string(nil), record.Parents...)
	sort.Strings(parents)

	fields := []string{
		strconv.FormatInt(record.SessionID, 10),
		strconv.FormatUint(uint64(record.Kind), 10),
		strconv.FormatInt(record.LamportClock, 10),
		strconv.FormatInt(record.Timestamp.UnixMilli(), 10),
		record.VectorClock.Canonical(),
	}
	fields = append(fields, parents...)
	fields = append(fields, string(payload))

	separator := string([]byte{fieldSeparator})
	return []byte(strings.Join(fields, separator)), nil
}

// ComputeEventID returns the uppercase hex SHA-256 of record's
// canonical bytes (spec §4.C).
func ComputeEventID(record *EventRecord) (string, error) {
	canonical, err := CanonicalBytes(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// CanonicalEvidenceBytes returns the JSON encoding of evidence that a
// DiceRoll's signature is computed over (spec §3: "Signature is
// Ed25519 over the canonical serialization of evidence").
func CanonicalEvidenceBytes(evidence DiceRollEvidence) ([]byte, error) {
	data, err := json.Marshal(evidence)
	if err != nil {
		return nil, syncerr.Wrap("eventlog.CanonicalEvidenceBytes", syncerr.CryptographicFailure, "marshaling dice roll evidence: %v", err)
	}
	return data, nil
}

// VerifyEventID recomputes record's event id from its canonical bytes
// and reports whether it matches record.EventID. Used on import (spec
// §4.F) to detect tampering or transport corruption.
func VerifyEventID(record *EventRecord) error {
	computed, err := ComputeEventID(record)
	if err != nil {
		return err
	}
	if computed != record.EventID {
		return syncerr.Wrap("eventlog.VerifyEventID", syncerr.ContentHashMismatch,
			"event claims id %q, recomputed %q", record.EventID, computed)
	}
	return nil
}
