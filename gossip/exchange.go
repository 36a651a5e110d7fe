// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/securechannel"
	"github.com/tabletop-sync/core/syncengine"
)

// maxKnownIDSample bounds how many known event ids a peer advertises
// in one round (spec §4.H: "its known event-id set (or a bounded
// sample)"). Event ids are uppercase-hex SHA-256 digests, so taking
// the ordinally-smallest maxKnownIDSample ids is an even sample of the
// id space without needing a random source.
const maxKnownIDSample = 8192

// Result summarizes one completed round (spec §4.H).
type Result struct {
	LocalHeads    []string
	PeerHeads     []string
	SentCount     int
	ImportedCount int
}

// Round runs the minimal convergence round for sessionID over channel,
// an already-authenticated secure channel (spec §4.H):
//
//  1. Exchange heads(session) and a known event-id sample.
//  2. Each side answers with get_missing_events(session, other_known)
//     as a wire batch.
//  3. Each side imports the batch it received.
//
// Both peers call Round with the same sessionID; the exchange is
// symmetric, so either side may initiate. A nil logger discards
// per-event parse-failure warnings.
func Round(ctx context.Context, channel *securechannel.Channel, engine *syncengine.Engine, sessionID int64, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	localHeads, peerHeads, err := exchangeHeads(ctx, channel, engine, sessionID)
	if err != nil {
		return nil, err
	}

	peerKnown := make(map[string]bool, len(peerHeads.KnownIDs))
	for _, id := range peerHeads.KnownIDs {
		peerKnown[id] = true
	}

	missing, err := engine.GetMissingEvents(ctx, sessionID, peerKnown)
	if err != nil {
		return nil, fmt.Errorf("gossip: computing missing events for session %d: %w", sessionID, err)
	}

	receivedBatch, err := exchangeBatch(ctx, channel, sessionID, missing)
	if err != nil {
		return nil, err
	}

	records, parseErrs := DecodeBatch(receivedBatch)
	for _, parseErr := range parseErrs {
		logger.Warn("gossip: skipping unparseable event in received batch", "session_id", sessionID, "error", parseErr)
	}

	imported, err := engine.Import(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("gossip: importing batch for session %d: %w", sessionID, err)
	}

	return &Result{
		LocalHeads:    localHeads,
		PeerHeads:     peerHeads.Heads,
		SentCount:     len(missing),
		ImportedCount: imported,
	}, nil
}

func exchangeHeads(ctx context.Context, channel *securechannel.Channel, engine *syncengine.Engine, sessionID int64) ([]string, headsMessage, error) {
	heads, err := engine.GetHeadEventIDs(ctx, sessionID)
	if err != nil {
		return nil, headsMessage{}, fmt.Errorf("gossip: reading local heads for session %d: %w", sessionID, err)
	}

	events, err := engine.GetEvents(ctx, sessionID)
	if err != nil {
		return nil, headsMessage{}, fmt.Errorf("gossip: reading local events for session %d: %w", sessionID, err)
	}
	knownIDs := make([]string, len(events))
	for i, record := range events {
		knownIDs[i] = record.EventID
	}
	knownIDs = boundedSample(knownIDs, maxKnownIDSample)

	encoded, err := encodeHeads(headsMessage{SessionID: sessionID, Heads: heads, KnownIDs: knownIDs})
	if err != nil {
		return nil, headsMessage{}, err
	}

	type received struct {
		msg headsMessage
		err error
	}
	incoming := make(chan received, 1)
	go func() {
		raw, err := channel.Receive(ctx)
		if err != nil {
			incoming <- received{err: fmt.Errorf("gossip: receiving heads: %w", err)}
			return
		}
		msg, err := decodeHeads(raw)
		incoming <- received{msg: msg, err: err}
	}()

	if err := channel.Send(ctx, encoded); err != nil {
		return nil, headsMessage{}, fmt.Errorf("gossip: sending heads: %w", err)
	}

	result := <-incoming
	if result.err != nil {
		return nil, headsMessage{}, result.err
	}
	return heads, result.msg, nil
}

func exchangeBatch(ctx context.Context, channel *securechannel.Channel, sessionID int64, missing []*eventlog.EventRecord) (string, error) {
	batch, err := EncodeBatch(missing)
	if err != nil {
		return "", err
	}

	encoded, err := encodeBatchMessage(batchMessage{SessionID: sessionID, Batch: batch})
	if err != nil {
		return "", err
	}

	type received struct {
		msg batchMessage
		err error
	}
	incoming := make(chan received, 1)
	go func() {
		raw, err := channel.Receive(ctx)
		if err != nil {
			incoming <- received{err: fmt.Errorf("gossip: receiving batch: %w", err)}
			return
		}
		msg, err := decodeBatchMessage(raw)
		incoming <- received{msg: msg, err: err}
	}()

	if err := channel.Send(ctx, encoded); err != nil {
		return "", fmt.Errorf("gossip: sending batch: %w", err)
	}

	result := <-incoming
	if result.err != nil {
		return "", result.err
	}
	return result.msg.Batch, nil
}

func boundedSample(ids []string, limit int) []string {
	if len(ids) <= limit {
		return ids
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return sorted[:limit]
}
