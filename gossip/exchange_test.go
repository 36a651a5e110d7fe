// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/identity"
	"github.com/tabletop-sync/core/securechannel"
	"github.com/tabletop-sync/core/syncengine"
)

func newTestIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	id, err := identity.GenerateEphemeral(name, clock.Fake(time.Unix(1700000000, 0)))
	if err != nil {
		t.Fatalf("identity.GenerateEphemeral: %v", err)
	}
	return id
}

func newTestEngine(t *testing.T, id *identity.Identity) *syncengine.Engine {
	t.Helper()
	store, err := eventlog.OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := syncengine.New(store, id, clock.Fake(time.Unix(1700000000, 0)), nil)
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return engine
}

// dialedChannelPair runs the secure channel handshake concurrently over
// a net.Pipe and returns both authenticated ends.
func dialedChannelPair(t *testing.T, alice, bob *identity.Identity) (a, b *securechannel.Channel) {
	t.Helper()
	connA, connB := net.Pipe()

	type result struct {
		channel *securechannel.Channel
		err     error
	}
	dialResult := make(chan result, 1)
	acceptResult := make(chan result, 1)

	go func() {
		ch, err := securechannel.Dial(context.Background(), connA, alice, securechannel.DefaultOptions())
		dialResult <- result{ch, err}
	}()
	go func() {
		ch, err := securechannel.Accept(context.Background(), connB, bob, securechannel.DefaultOptions())
		acceptResult <- result{ch, err}
	}()

	dialed := <-dialResult
	accepted := <-acceptResult
	if dialed.err != nil {
		t.Fatalf("Dial: %v", dialed.err)
	}
	if accepted.err != nil {
		t.Fatalf("Accept: %v", accepted.err)
	}
	return dialed.channel, accepted.channel
}

func TestRoundConvergesTwoPeers(t *testing.T) {
	alice := newTestIdentity(t, "Alice's Laptop")
	bob := newTestIdentity(t, "Bob's Tablet")

	engineA := newTestEngine(t, alice)
	engineB := newTestEngine(t, bob)

	const sessionID = int64(1)
	ctx := context.Background()

	if _, err := engineA.AppendLocalEvent(ctx, sessionID, eventlog.ChatMessageBody{
		MessageID:  uuid.New(),
		PeerID:     alice.PeerID,
		DeviceName: alice.DeviceName,
		Content:    "hello from alice",
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("engineA.AppendLocalEvent: %v", err)
	}
	if _, err := engineB.AppendLocalEvent(ctx, sessionID, eventlog.ChatMessageBody{
		MessageID:  uuid.New(),
		PeerID:     bob.PeerID,
		DeviceName: bob.DeviceName,
		Content:    "hello from bob",
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("engineB.AppendLocalEvent: %v", err)
	}

	channelA, channelB := dialedChannelPair(t, alice, bob)
	defer channelA.Close()
	defer channelB.Close()

	type roundResult struct {
		result *Result
		err    error
	}
	resultA := make(chan roundResult, 1)
	resultB := make(chan roundResult, 1)

	go func() {
		r, err := Round(ctx, channelA, engineA, sessionID, nil)
		resultA <- roundResult{r, err}
	}()
	go func() {
		r, err := Round(ctx, channelB, engineB, sessionID, nil)
		resultB <- roundResult{r, err}
	}()

	outcomeA := <-resultA
	outcomeB := <-resultB
	if outcomeA.err != nil {
		t.Fatalf("Round (alice): %v", outcomeA.err)
	}
	if outcomeB.err != nil {
		t.Fatalf("Round (bob): %v", outcomeB.err)
	}

	if outcomeA.result.ImportedCount != 1 {
		t.Errorf("alice imported %d events, want 1", outcomeA.result.ImportedCount)
	}
	if outcomeB.result.ImportedCount != 1 {
		t.Errorf("bob imported %d events, want 1", outcomeB.result.ImportedCount)
	}

	eventsA, err := engineA.GetEvents(ctx, sessionID)
	if err != nil {
		t.Fatalf("engineA.GetEvents: %v", err)
	}
	eventsB, err := engineB.GetEvents(ctx, sessionID)
	if err != nil {
		t.Fatalf("engineB.GetEvents: %v", err)
	}
	if len(eventsA) != 2 || len(eventsB) != 2 {
		t.Fatalf("len(eventsA) = %d, len(eventsB) = %d, want 2 each", len(eventsA), len(eventsB))
	}

	stateA, err := engineA.GetSessionState(ctx, sessionID)
	if err != nil {
		t.Fatalf("engineA.GetSessionState: %v", err)
	}
	stateB, err := engineB.GetSessionState(ctx, sessionID)
	if err != nil {
		t.Fatalf("engineB.GetSessionState: %v", err)
	}
	if len(stateA.Chat) != len(stateB.Chat) {
		t.Fatalf("chat length mismatch: alice=%d bob=%d", len(stateA.Chat), len(stateB.Chat))
	}
}

func TestRoundWithNothingToExchangeImportsNothing(t *testing.T) {
	alice := newTestIdentity(t, "Alice's Laptop")
	bob := newTestIdentity(t, "Bob's Tablet")

	engineA := newTestEngine(t, alice)
	engineB := newTestEngine(t, bob)

	const sessionID = int64(1)
	ctx := context.Background()

	channelA, channelB := dialedChannelPair(t, alice, bob)
	defer channelA.Close()
	defer channelB.Close()

	type roundResult struct {
		result *Result
		err    error
	}
	resultA := make(chan roundResult, 1)
	resultB := make(chan roundResult, 1)

	go func() {
		r, err := Round(ctx, channelA, engineA, sessionID, nil)
		resultA <- roundResult{r, err}
	}()
	go func() {
		r, err := Round(ctx, channelB, engineB, sessionID, nil)
		resultB <- roundResult{r, err}
	}()

	outcomeA := <-resultA
	outcomeB := <-resultB
	if outcomeA.err != nil {
		t.Fatalf("Round (alice): %v", outcomeA.err)
	}
	if outcomeB.err != nil {
		t.Fatalf("Round (bob): %v", outcomeB.err)
	}
	if outcomeA.result.ImportedCount != 0 || outcomeB.result.ImportedCount != 0 {
		t.Error("expected nothing imported when both sessions are empty")
	}
}
