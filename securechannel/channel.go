// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tabletop-sync/core/clock"
	"github.com/tabletop-sync/core/identity"
	"github.com/tabletop-sync/core/syncerr"
)

// SecurityEvent is delivered through the OnSecurityEvent callback for a
// cryptographic failure, replay, or malformed frame, none of which by
// itself tears down the channel (spec §4.G, §7), and for peer expiry
// (syncerr.PeerExpired), which is followed by teardown.
type SecurityEvent struct {
	PeerID string
	Reason error
}

// Options configures a Channel. Zero-valued fields take the same
// defaults as [DefaultOptions], plus the real clock and a discarding
// logger; a zero SendRate leaves sending unlimited.
type Options struct {
	AckTimeout       time.Duration
	ReplayWindowSize uint64
	Clock            clock.Clock
	Logger           *slog.Logger
	OnSecurityEvent  func(SecurityEvent)
	OnDisconnect     func(peerID string)

	// SendRate and SendBurst configure a token-bucket limiter on
	// outbound Data frames (Send blocks, never drops). SendRate is
	// frames/second; zero means unlimited. SendBurst defaults to
	// SendRate's value (rounded up) when unset, allowing one second's
	// worth of frames to go out immediately after an idle period.
	SendRate  float64
	SendBurst int

	// HeartbeatInterval is how long the channel may go without sending
	// any frame before it sends a Heartbeat frame to keep the peer's
	// liveness deadline fed. Defaults to 3s.
	HeartbeatInterval time.Duration

	// PeerExpiry is how long the channel may go without receiving any
	// frame from the peer before it considers the peer gone and tears
	// itself down. Defaults to 20s.
	PeerExpiry time.Duration
}

// Channel is one mutual-authenticated, forward-secret connection to a
// peer (spec §4.G). Construct with [Dial] or [Accept]; both run the
// handshake to completion before returning.
type Channel struct {
	conn   io.ReadWriteCloser
	logger *slog.Logger
	clk    clock.Clock

	sessionID [16]byte
	remote    *remotePeer

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD
	sendSalt [4]byte

	sendSeq atomic.Uint64

	writeMu sync.Mutex
	limiter *rate.Limiter

	pendingMu  sync.Mutex
	pending    map[uint64]chan error
	ackTimeout time.Duration

	recvMu          sync.Mutex
	highestSeq      uint64
	replayWindow    uint64 // bitmask of the replayWindowSize sequences below highestSeq
	replayWindowLen uint64

	// lastSendNano and lastRecvNano track Unix-nanosecond timestamps
	// (clk.Now().UnixNano()) of the most recent outbound and inbound
	// frame, fed by heartbeatLoop and livenessLoop respectively.
	lastSendNano atomic.Int64
	lastRecvNano atomic.Int64

	heartbeatInterval time.Duration
	peerExpiry        time.Duration

	dataCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	onSecurityEvent func(SecurityEvent)
	onDisconnect    func(peerID string)
}

// DefaultOptions returns Options with spec-mandated defaults: a 5s ack
// timeout, a 64-entry replay window, a 3s heartbeat interval, a 20s peer
// expiry, the real clock, and a discarding logger.
func DefaultOptions() Options {
	return Options{
		AckTimeout:        5 * time.Second,
		ReplayWindowSize:  64,
		HeartbeatInterval: 3 * time.Second,
		PeerExpiry:        20 * time.Second,
	}
}

// RemotePeerID returns the authenticated peer id presented during the
// handshake.
func (c *Channel) RemotePeerID() string { return c.remote.PeerID }

// RemoteDeviceName returns the device name presented during the
// handshake.
func (c *Channel) RemoteDeviceName() string { return c.remote.DeviceName }

// SessionID returns the 16-byte session id agreed during the handshake.
func (c *Channel) SessionID() [16]byte { return c.sessionID }

// Dial runs the initiator side of the handshake over conn and returns a
// ready Channel.
func Dial(ctx context.Context, conn io.ReadWriteCloser, id *identity.Identity, opts Options) (*Channel, error) {
	return newChannel(ctx, conn, id, true, opts)
}

// Accept runs the responder side of the handshake over conn and returns
// a ready Channel.
func Accept(ctx context.Context, conn io.ReadWriteCloser, id *identity.Identity, opts Options) (*Channel, error) {
	return newChannel(ctx, conn, id, false, opts)
}

func newChannel(ctx context.Context, conn io.ReadWriteCloser, id *identity.Identity, initiator bool, opts Options) (*Channel, error) {
	result, err := runHandshake(ctx, conn, id, initiator)
	if err != nil {
		return nil, err
	}

	sendBlock, err := aes.NewCipher(result.SendKey[:])
	if err != nil {
		return nil, fmt.Errorf("securechannel: building send cipher: %w", err)
	}
	sendAEAD, err := cipher.NewGCM(sendBlock)
	if err != nil {
		return nil, fmt.Errorf("securechannel: building send AEAD: %w", err)
	}
	recvBlock, err := aes.NewCipher(result.ReceiveKey[:])
	if err != nil {
		return nil, fmt.Errorf("securechannel: building receive cipher: %w", err)
	}
	recvAEAD, err := cipher.NewGCM(recvBlock)
	if err != nil {
		return nil, fmt.Errorf("securechannel: building receive AEAD: %w", err)
	}

	var salt [4]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("securechannel: generating nonce salt: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	replayWindowSize := opts.ReplayWindowSize
	if replayWindowSize == 0 {
		replayWindowSize = 64
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 3 * time.Second
	}
	peerExpiry := opts.PeerExpiry
	if peerExpiry <= 0 {
		peerExpiry = 20 * time.Second
	}

	var limiter *rate.Limiter
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = int(opts.SendRate + 0.5)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	channel := &Channel{
		conn:              conn,
		logger:            logger,
		clk:               clk,
		sessionID:         result.SessionID,
		remote:            result.Remote,
		sendAEAD:          sendAEAD,
		recvAEAD:          recvAEAD,
		sendSalt:          salt,
		limiter:           limiter,
		pending:           make(map[uint64]chan error),
		ackTimeout:        ackTimeout,
		replayWindowLen:   replayWindowSize,
		heartbeatInterval: heartbeatInterval,
		peerExpiry:        peerExpiry,
		dataCh:            make(chan []byte, 16),
		closed:            make(chan struct{}),
		onSecurityEvent:   opts.OnSecurityEvent,
		onDisconnect:      opts.OnDisconnect,
	}
	now := clk.Now().UnixNano()
	channel.lastSendNano.Store(now)
	channel.lastRecvNano.Store(now)

	go channel.readLoop()
	go channel.heartbeatLoop()
	go channel.livenessLoop()
	return channel, nil
}

// heartbeatLoop sends a Heartbeat frame whenever the channel has gone a
// full heartbeatInterval without sending anything else, keeping the
// peer's liveness deadline fed across otherwise-quiet connections.
func (c *Channel) heartbeatLoop() {
	ticker := c.clk.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idle := c.clk.Now().Sub(time.Unix(0, c.lastSendNano.Load()))
			if idle < c.heartbeatInterval {
				continue
			}
			c.writeMu.Lock()
			err := writeFrame(c.conn, FrameHeartbeat, nil)
			c.writeMu.Unlock()
			if err == nil {
				c.lastSendNano.Store(c.clk.Now().UnixNano())
			}
		case <-c.closed:
			return
		}
	}
}

// livenessLoop tears the channel down once no frame — Data, Ack,
// Close, or Heartbeat — has arrived from the peer within peerExpiry.
func (c *Channel) livenessLoop() {
	checkInterval := c.peerExpiry / 4
	if checkInterval <= 0 {
		checkInterval = c.peerExpiry
	}
	ticker := c.clk.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			idle := c.clk.Now().Sub(time.Unix(0, c.lastRecvNano.Load()))
			if idle >= c.peerExpiry {
				c.emitSecurityEvent(syncerr.Wrap("securechannel.livenessLoop", syncerr.PeerExpired, "no frame received in %s", idle))
				c.teardown()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) emitSecurityEvent(reason error) {
	if c.onSecurityEvent == nil {
		return
	}
	c.onSecurityEvent(SecurityEvent{PeerID: c.remote.PeerID, Reason: reason})
}

// readLoop demultiplexes incoming frames: Data frames are decrypted,
// replay-checked, acked, and delivered to Receive; Ack frames complete
// the matching pending Send; Close tears the channel down; Heartbeat
// carries no payload and exists only to feed the peer-liveness
// deadline, which every frame (including Heartbeat itself) resets. A
// malformed Data or Ack payload, crypto failure, or replay is reported
// on the security callback and the loop continues (spec §4.G, §7). A
// frame whose header readFrame rejects (an unknown frame code or an
// oversized length) ends the loop and tears the channel down without a
// security event.
func (c *Channel) readLoop() {
	defer close(c.dataCh)
	for {
		code, payload, err := readFrame(c.conn)
		if err != nil {
			c.teardown()
			return
		}
		c.lastRecvNano.Store(c.clk.Now().UnixNano())

		switch code {
		case FrameData:
			plaintext, seq, err := c.decryptData(payload)
			if err != nil {
				c.emitSecurityEvent(err)
				continue
			}
			// The Ack is written from its own goroutine so that this loop
			// keeps reading: over a synchronous pipe, two read loops that
			// both wait to write an Ack would otherwise block each other.
			go func(seq uint64) {
				if err := c.writeAck(seq); err != nil {
					c.teardown()
				}
			}(seq)
			select {
			case c.dataCh <- plaintext:
			case <-c.closed:
				return
			}

		case FrameAck:
			if len(payload) != 8 {
				c.emitSecurityEvent(fmt.Errorf("securechannel: malformed ack payload (%d bytes)", len(payload)))
				continue
			}
			seq := binary.BigEndian.Uint64(payload)
			c.completeSend(seq, nil)

		case FrameHeartbeat:
			continue

		case FrameClose:
			c.teardown()
			return

		default:
			c.emitSecurityEvent(syncerr.Wrap("securechannel.readLoop", syncerr.UnknownFrame, "code %d", byte(code)))
		}
	}
}

func (c *Channel) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
		if c.onDisconnect != nil {
			c.onDisconnect(c.remote.PeerID)
		}
	})
}

func (c *Channel) completeSend(seq uint64, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- err
	}
}

// nonceFor builds the 12-byte nonce: a 4-byte salt followed by the
// sequence number as an 8-byte big-endian tail (spec §4.G).
func nonceFor(salt [4]byte, seq uint64) [12]byte {
	var nonce [12]byte
	copy(nonce[:4], salt[:])
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

func (c *Channel) writeAck(seq uint64) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, seq)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := writeFrame(c.conn, FrameAck, payload)
	if err == nil {
		c.lastSendNano.Store(c.clk.Now().UnixNano())
	}
	return err
}

// Send encrypts plaintext, writes it as a Data frame, and waits for the
// peer's Ack. It fails with AckTimeout if no Ack arrives within the
// configured timeout, or Cancelled if ctx is done first — in either
// case the frame may already have been delivered, so callers must treat
// retried sends as idempotent (spec §5).
// Go's cipher.AEAD.Seal appends the 16-byte tag to the end of the
// ciphertext it returns, so the wire layout's trailing tag(16) is
// carried as the last 16 bytes of the sealed blob rather than as a
// separately-addressed field; cipher_len below is that blob's full
// length.
func (c *Channel) Send(ctx context.Context, plaintext []byte) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return syncerr.Wrap("securechannel.Send", syncerr.Cancelled, "rate limiter: %v", err)
		}
	}

	seq := c.sendSeq.Add(1)
	nonce := nonceFor(c.sendSalt, seq)
	sealed := c.sendAEAD.Seal(nil, nonce[:], plaintext, c.sessionID[:])

	payload := make([]byte, 8+12+4+len(sealed))
	binary.BigEndian.PutUint64(payload[0:8], seq)
	copy(payload[8:20], nonce[:])
	binary.BigEndian.PutUint32(payload[20:24], uint32(len(sealed)))
	copy(payload[24:], sealed)

	completion := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[seq] = completion
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := writeFrame(c.conn, FrameData, payload)
	c.writeMu.Unlock()
	if err == nil {
		c.lastSendNano.Store(c.clk.Now().UnixNano())
	}
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return fmt.Errorf("securechannel: writing data frame: %w", err)
	}

	timer := c.clk.After(c.ackTimeout)
	select {
	case err := <-completion:
		return err
	case <-timer:
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return syncerr.Wrap("securechannel.Send", syncerr.AckTimeout, "no ack for sequence %d", seq)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return syncerr.Wrap("securechannel.Send", syncerr.Cancelled, "%v", ctx.Err())
	case <-c.closed:
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return fmt.Errorf("securechannel: channel closed while awaiting ack")
	}
}

// decryptData parses a Data frame payload, checks it against the replay
// window, and decrypts it.
func (c *Channel) decryptData(payload []byte) ([]byte, uint64, error) {
	if len(payload) < 8+12+4 {
		return nil, 0, fmt.Errorf("securechannel: data frame too short (%d bytes)", len(payload))
	}
	seq := binary.BigEndian.Uint64(payload[0:8])
	var nonce [12]byte
	copy(nonce[:], payload[8:20])
	cipherLen := binary.BigEndian.Uint32(payload[20:24])
	rest := payload[24:]
	if uint32(len(rest)) != cipherLen {
		return nil, seq, fmt.Errorf("securechannel: data frame cipher_len mismatch (declared %d, got %d)", cipherLen, len(rest))
	}

	if err := c.checkReplay(seq); err != nil {
		return nil, seq, err
	}

	plaintext, err := c.recvAEAD.Open(nil, nonce[:], rest, c.sessionID[:])
	if err != nil {
		return nil, seq, syncerr.Wrap("securechannel.decryptData", syncerr.CryptographicFailure, "sequence %d: %v", seq, err)
	}

	c.commitReplay(seq)
	return plaintext, seq, nil
}

// checkReplay reports whether seq is acceptable: strictly greater than
// the highest seen sequence, or within the sliding window of the last
// replayWindowLen sequences and not yet marked seen (spec §4.G).
func (c *Channel) checkReplay(seq uint64) error {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if seq > c.highestSeq {
		return nil
	}
	distance := c.highestSeq - seq
	if distance == 0 || distance > c.replayWindowLen {
		return syncerr.Wrap("securechannel.checkReplay", syncerr.ReplayDetected, "sequence %d (highest seen %d)", seq, c.highestSeq)
	}
	if c.replayWindow&(1<<(distance-1)) != 0 {
		return syncerr.Wrap("securechannel.checkReplay", syncerr.ReplayDetected, "sequence %d already in window", seq)
	}
	return nil
}

// commitReplay records seq as seen. Caller must have already verified
// it via checkReplay and decrypted it successfully.
func (c *Channel) commitReplay(seq uint64) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if seq > c.highestSeq {
		shift := seq - c.highestSeq
		if shift >= 64 {
			c.replayWindow = 0
		} else {
			// The previous highest sequence is now shift away from the
			// new one and must be folded into the shifted window so it
			// is still recognized as seen.
			c.replayWindow = (c.replayWindow << shift) | (1 << (shift - 1))
		}
		c.highestSeq = seq
		return
	}
	distance := c.highestSeq - seq
	c.replayWindow |= 1 << (distance - 1)
}

// Receive returns the next decrypted Data payload, or an error if ctx
// is cancelled or the channel has closed.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-c.dataCh:
		if !ok {
			return nil, fmt.Errorf("securechannel: channel closed")
		}
		return payload, nil
	case <-ctx.Done():
		return nil, syncerr.Wrap("securechannel.Receive", syncerr.Cancelled, "%v", ctx.Err())
	}
}

// Close sends a Close frame (best-effort) and disposes of the
// underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.writeMu.Lock()
	if writeFrame(c.conn, FrameClose, nil) == nil {
		c.lastSendNano.Store(c.clk.Now().UnixNano())
	}
	c.writeMu.Unlock()
	c.teardown()
	return nil
}
