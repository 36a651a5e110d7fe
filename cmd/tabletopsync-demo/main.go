// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Command tabletopsync-demo exercises the full sync-core pipeline end to
// end over a real TCP connection: identity load-or-generate, a local
// chat-message append, the secure-channel handshake, one gossip round,
// and materialization of the converged session state.
//
// Run two copies against each other:
//
//	tabletopsync-demo --listen :4433 --state-dir /tmp/alice --device-name "Alice's Laptop" --message "hello from alice"
//	tabletopsync-demo --connect localhost:4433 --state-dir /tmp/bob --device-name "Bob's Tablet" --message "hello from bob"
//
// Each prints the materialized session state (chat, presence, flags and
// dice rolls) as JSON once the round completes; both should agree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/config"
	"github.com/tabletop-sync/core/eventlog"
	"github.com/tabletop-sync/core/gossip"
	"github.com/tabletop-sync/core/identity"
	"github.com/tabletop-sync/core/lib/process"
	"github.com/tabletop-sync/core/materializer"
	"github.com/tabletop-sync/core/securechannel"
	"github.com/tabletop-sync/core/syncengine"
	"github.com/tabletop-sync/core/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// demoPassphrase guards the on-disk identity blob. Real deployments
// supply their own via --passphrase or TABLETOPSYNC_PASSPHRASE; this
// fallback exists only so the demo runs with zero setup.
const demoPassphrase = "tabletopsync-demo-passphrase-do-not-use-in-production"

func run() error {
	var (
		listenAddr  string
		connectAddr string
		deviceName  string
		stateDir    string
		passphrase  string
		configPath  string
		sessionID   int64
		message     string
	)

	flagSet := pflag.NewFlagSet("tabletopsync-demo", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddr, "listen", "", "listen address; this process is the secure channel responder")
	flagSet.StringVar(&connectAddr, "connect", "", "address to dial; this process is the secure channel initiator")
	flagSet.StringVar(&deviceName, "device-name", "", "device name fallback used only if no identity is yet persisted")
	flagSet.StringVar(&stateDir, "state-dir", "", "directory holding the identity blob and event store (default: config's state_dir)")
	flagSet.StringVar(&passphrase, "passphrase", "", "passphrase sealing the identity blob (default: $TABLETOPSYNC_PASSPHRASE, else a fixed demo value)")
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $TABLETOPSYNC_CONFIG, else built-in defaults)")
	flagSet.Int64Var(&sessionID, "session", 1, "session id to synchronize")
	flagSet.StringVar(&message, "message", "", "if set, append a chat message locally before running the round")
	help := flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *help {
		flagSet.PrintDefaults()
		return nil
	}
	if (listenAddr == "") == (connectAddr == "") {
		return fmt.Errorf("exactly one of --listen or --connect is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	if passphrase == "" {
		passphrase = os.Getenv("TABLETOPSYNC_PASSPHRASE")
	}
	if passphrase == "" {
		logger.Warn("no --passphrase/TABLETOPSYNC_PASSPHRASE set, using the fixed demo passphrase — do not do this outside the demo")
		passphrase = demoPassphrase
	}

	ctx := context.Background()

	id, store, engine, err := openPeer(ctx, cfg, deviceName, passphrase, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("identity ready", "peer_id", id.PeerID, "device_name", id.DeviceName)

	if message != "" {
		if _, err := engine.AppendLocalEvent(ctx, sessionID, eventlog.ChatMessageBody{
			MessageID:  uuid.New(),
			PeerID:     id.PeerID,
			DeviceName: id.DeviceName,
			Content:    message,
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("appending local chat message: %w", err)
		}
	}

	conn, err := connectPeer(ctx, listenAddr, connectAddr, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	opts := securechannel.Options{
		AckTimeout:        cfg.AckTimeout,
		ReplayWindowSize:  uint64(cfg.ReplayWindowSize),
		HeartbeatInterval: cfg.DiscoveryBroadcastInterval,
		PeerExpiry:        cfg.PeerExpiry,
		Clock:             clock.Real(),
		Logger:            logger,
		OnSecurityEvent: func(event securechannel.SecurityEvent) {
			logger.Warn("security event", "peer_id", event.PeerID, "reason", event.Reason)
		},
		OnDisconnect: func(peerID string) {
			logger.Info("peer disconnected", "peer_id", peerID)
		},
	}

	var channel *securechannel.Channel
	if connectAddr != "" {
		channel, err = securechannel.Dial(ctx, conn, id, opts)
	} else {
		channel, err = securechannel.Accept(ctx, conn, id, opts)
	}
	if err != nil {
		return fmt.Errorf("secure channel handshake: %w", err)
	}
	defer channel.Close()

	logger.Info("secure channel established", "remote_peer_id", channel.RemotePeerID(), "remote_device_name", channel.RemoteDeviceName())

	result, err := gossip.Round(ctx, channel, engine, sessionID, logger)
	if err != nil {
		return fmt.Errorf("gossip round: %w", err)
	}
	logger.Info("gossip round complete", "imported", result.ImportedCount, "sent", result.SentCount)

	state, err := engine.GetSessionState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("materializing session state: %w", err)
	}
	return printState(state)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func openPeer(ctx context.Context, cfg *config.Config, deviceName, passphrase string, logger *slog.Logger) (*identity.Identity, *eventlog.SQLiteStore, *syncengine.Engine, error) {
	identityPath := filepath.Join(cfg.StateDir, "identity.age")
	storage, err := identity.NewFileStorage(identityPath, []byte(passphrase))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening identity storage: %w", err)
	}
	defer storage.Close()

	id, err := identity.InitializeWithLogger(ctx, storage, deviceName, clock.Real(), logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing identity: %w", err)
	}

	store, err := eventlog.OpenSQLiteStore(filepath.Join(cfg.StateDir, "events.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening event store: %w", err)
	}

	engine := syncengine.New(store, id, clock.Real(), logger)
	if err := engine.Initialize(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("initializing sync engine: %w", err)
	}

	return id, store, engine, nil
}

func connectPeer(ctx context.Context, listenAddr, connectAddr string, logger *slog.Logger) (net.Conn, error) {
	if connectAddr != "" {
		dialer := &transport.TCPDialer{}
		logger.Info("dialing peer", "address", connectAddr)
		return dialer.DialContext(ctx, connectAddr)
	}

	listener, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	logger.Info("waiting for peer", "address", listener.Address())
	return listener.Accept(ctx)
}

func printState(state *materializer.SessionState) error {
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
