// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tabletop-sync/core/lib/sqlitepool"
	"github.com/tabletop-sync/core/syncerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_log_entries (
	session_id    INTEGER NOT NULL,
	event_id      TEXT    NOT NULL,
	kind          INTEGER NOT NULL,
	lamport_clock INTEGER NOT NULL,
	timestamp     INTEGER NOT NULL,
	parents_json  TEXT    NOT NULL,
	vector_clock_json TEXT NOT NULL,
	body_json     TEXT    NOT NULL,
	is_imported   INTEGER NOT NULL,
	PRIMARY KEY (session_id, event_id)
);

CREATE TABLE IF NOT EXISTS event_log_edges (
	session_id INTEGER NOT NULL,
	event_id   TEXT    NOT NULL,
	parent_id  TEXT    NOT NULL,
	PRIMARY KEY (session_id, event_id, parent_id)
);

CREATE INDEX IF NOT EXISTS event_log_edges_by_parent
	ON event_log_edges (session_id, parent_id);

CREATE INDEX IF NOT EXISTS event_log_entries_by_order
	ON event_log_entries (session_id, lamport_clock, event_id);
`

// SQLiteStore is the reference [Store] implementation, backed by a
// SQLite database through lib/sqlitepool. One row per event
// (event_log_entries) plus one row per (child, parent) edge
// (event_log_edges), matching the persisted shapes in spec §3.
//
// The event log is append-heavy but single-writer by nature (one
// device, one local copy of the log), so the store takes exactly one
// connection from the pool at open time and holds it for its
// lifetime — a size-1 pool gets the shared pragma and schema-bootstrap
// logic without pretending this store needs concurrent readers.
type SQLiteStore struct {
	pool *sqlitepool.Pool
	conn *sqlite.Conn
	mu   chan struct{} // 1-buffered mutex; sqlite.Conn is not goroutine-safe
}

// OpenSQLiteStore opens (creating if necessary) a SQLite database at
// path and ensures the event log schema exists. Use ":memory:" for an
// ephemeral, process-local store (tests).
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: opening %s: %w", path, err)
	}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventlog: taking connection for %s: %w", path, err)
	}

	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &SQLiteStore{pool: pool, conn: conn, mu: mu}, nil
}

// Close returns the held connection and closes the underlying pool.
func (s *SQLiteStore) Close() error {
	s.pool.Put(s.conn)
	return s.pool.Close()
}

func (s *SQLiteStore) lock(ctx context.Context) error {
	select {
	case <-s.mu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) unlock() {
	s.mu <- struct{}{}
}

// Append implements [Store]. The entry row and its edge rows are
// written inside one savepoint, so a failure partway through never
// leaves a partially-persisted event (spec §4.D).
func (s *SQLiteStore) Append(ctx context.Context, record *EventRecord) (err error) {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	release := sqlitex.Save(s.conn)
	defer release(&err)

	if err = s.insertEntry(record); err != nil {
		return err
	}
	for _, parent := range record.Parents {
		if err = s.insertEdge(record.SessionID, record.EventID, parent); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) insertEntry(record *EventRecord) error {
	bodyJSON, err := json.Marshal(record.Body)
	if err != nil {
		return syncerr.Wrap("eventlog.Append", syncerr.StorageFailure, "marshaling body: %v", err)
	}
	parentsJSON, err := json.Marshal(record.Parents)
	if err != nil {
		return syncerr.Wrap("eventlog.Append", syncerr.StorageFailure, "marshaling parents: %v", err)
	}
	vectorClockJSON, err := json.Marshal(record.VectorClock)
	if err != nil {
		return syncerr.Wrap("eventlog.Append", syncerr.StorageFailure, "marshaling vector clock: %v", err)
	}

	isImported := 0
	if record.IsImported {
		isImported = 1
	}

	return sqlitex.Execute(s.conn, `
		INSERT INTO event_log_entries
			(session_id, event_id, kind, lamport_clock, timestamp,
			 parents_json, vector_clock_json, body_json, is_imported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.SessionID,
				record.EventID,
				int(record.Kind),
				record.LamportClock,
				record.Timestamp.UnixMilli(),
				string(parentsJSON),
				string(vectorClockJSON),
				string(bodyJSON),
				isImported,
			},
		})
}

func (s *SQLiteStore) insertEdge(sessionID int64, eventID, parentID string) error {
	return sqlitex.Execute(s.conn,
		`INSERT INTO event_log_edges (session_id, event_id, parent_id) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{sessionID, eventID, parentID}})
}

// LookupExistingIDs implements [Store].
func (s *SQLiteStore) LookupExistingIDs(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	existing := make(map[string]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return existing, nil
	}

	placeholders := strings.Repeat("?,", len(candidateIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`SELECT DISTINCT event_id FROM event_log_entries WHERE event_id IN (%s)`, placeholders)

	args := make([]any, len(candidateIDs))
	for i, id := range candidateIDs {
		args[i] = id
	}

	err := sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existing[stmt.ColumnText(0)] = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: looking up existing ids: %w", err)
	}
	return existing, nil
}

// List implements [Store].
func (s *SQLiteStore) List(ctx context.Context, sessionID int64) ([]*EventRecord, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.listLocked(sessionID, nil)
}

// ListMissing implements [Store].
func (s *SQLiteStore) ListMissing(ctx context.Context, sessionID int64, knownIDs map[string]bool) ([]*EventRecord, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.listLocked(sessionID, knownIDs)
}

func (s *SQLiteStore) listLocked(sessionID int64, knownIDs map[string]bool) ([]*EventRecord, error) {
	var records []*EventRecord
	var scanErr error

	err := sqlitex.Execute(s.conn, `
		SELECT event_id, kind, lamport_clock, timestamp, parents_json,
		       vector_clock_json, body_json, is_imported
		FROM event_log_entries
		WHERE session_id = ?
		ORDER BY lamport_clock ASC, event_id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt, sessionID)
				if err != nil {
					scanErr = err
					return err
				}
				if knownIDs == nil || !knownIDs[record.EventID] {
					records = append(records, record)
				}
				return nil
			},
		})
	if err != nil {
		if scanErr != nil {
			return nil, scanErr
		}
		return nil, fmt.Errorf("eventlog: listing session %d: %w", sessionID, err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt, sessionID int64) (*EventRecord, error) {
	var parents []string
	if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &parents); err != nil {
		return nil, syncerr.Wrap("eventlog.scanRecord", syncerr.StorageFailure, "unmarshaling parents: %v", err)
	}

	record := &EventRecord{
		EventID:      stmt.ColumnText(0),
		SessionID:    sessionID,
		Kind:         EventKind(stmt.ColumnInt(1)),
		LamportClock: stmt.ColumnInt64(2),
		Timestamp:    time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
		Parents:      parents,
		IsImported:   stmt.ColumnInt(7) != 0,
	}

	if err := json.Unmarshal([]byte(stmt.ColumnText(5)), &record.VectorClock); err != nil {
		return nil, syncerr.Wrap("eventlog.scanRecord", syncerr.StorageFailure, "unmarshaling vector clock: %v", err)
	}

	body, err := decodeBody(record.Kind, []byte(stmt.ColumnText(6)))
	if err != nil {
		return nil, err
	}
	record.Body = body

	return record, nil
}

func decodeBody(kind EventKind, data []byte) (Body, error) {
	switch kind {
	case KindChatMessage:
		var body ChatMessageBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, syncerr.Wrap("eventlog.decodeBody", syncerr.StorageFailure, "unmarshaling ChatMessage body: %v", err)
		}
		return body, nil
	case KindPresence:
		var body PresenceBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, syncerr.Wrap("eventlog.decodeBody", syncerr.StorageFailure, "unmarshaling Presence body: %v", err)
		}
		return body, nil
	case KindFlagUpdate:
		var body FlagUpdateBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, syncerr.Wrap("eventlog.decodeBody", syncerr.StorageFailure, "unmarshaling FlagUpdate body: %v", err)
		}
		return body, nil
	case KindDiceRoll:
		var body DiceRollBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, syncerr.Wrap("eventlog.decodeBody", syncerr.StorageFailure, "unmarshaling DiceRoll body: %v", err)
		}
		return body, nil
	default:
		return nil, syncerr.Wrap("eventlog.decodeBody", syncerr.StorageFailure, "unknown event kind %d", kind)
	}
}

// Heads implements [Store].
func (s *SQLiteStore) Heads(ctx context.Context, sessionID int64) ([]string, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()

	var heads []string
	err := sqlitex.Execute(s.conn, `
		SELECT event_id FROM event_log_entries
		WHERE session_id = ?
		  AND event_id NOT IN (
			SELECT parent_id FROM event_log_edges WHERE session_id = ?
		  )
		ORDER BY event_id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				heads = append(heads, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("eventlog: computing heads for session %d: %w", sessionID, err)
	}
	return heads, nil
}

// MaxLamportClock implements [Store].
func (s *SQLiteStore) MaxLamportClock(ctx context.Context) (int64, error) {
	if err := s.lock(ctx); err != nil {
		return 0, err
	}
	defer s.unlock()

	var maxClock int64
	err := sqlitex.Execute(s.conn, `SELECT COALESCE(MAX(lamport_clock), 0) FROM event_log_entries`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				maxClock = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("eventlog: reading max lamport clock: %w", err)
	}
	return maxClock, nil
}
