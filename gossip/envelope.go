// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/tabletop-sync/core/lib/codec"
)

// frameKind discriminates the two gossip round messages once they are
// unwrapped from their envelope.
type frameKind uint8

const (
	frameHeads frameKind = 1
	frameBatch frameKind = 2
)

// compressionThreshold is the payload size below which zstd's framing
// overhead is not worth paying (spec §4.H leaves batch size
// unbounded; small heads/known-id exchanges stay uncompressed).
const compressionThreshold = 512

// envelope is the CBOR transport wrapper riding a secure channel Data
// frame. Payload is either a plain CBOR-encoded headsMessage/
// batchMessage, or that same encoding zstd-compressed when
// Compressed is set.
type envelope struct {
	Kind       frameKind `cbor:"kind"`
	Compressed bool      `cbor:"compressed"`
	Payload    []byte    `cbor:"payload"`
}

// headsMessage is step 1 of a round: a peer's current heads for the
// session plus its known event-id set (or a bounded sample of it).
type headsMessage struct {
	SessionID int64    `cbor:"sessionId"`
	Heads     []string `cbor:"heads"`
	KnownIDs  []string `cbor:"knownIds"`
}

// batchMessage is step 2 of a round: the wire batch answering the
// peer's get_missing_events request. Batch is the JSON-array string
// from EncodeBatch, or "" for an empty batch (spec §4.H).
type batchMessage struct {
	SessionID int64  `cbor:"sessionId"`
	Batch     string `cbor:"batch"`
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("gossip: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("gossip: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeEnvelope(kind frameKind, inner any) ([]byte, error) {
	payload, err := codec.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("gossip: encoding envelope payload: %w", err)
	}

	compressed := false
	if len(payload) >= compressionThreshold {
		if squeezed := zstdEncoder.EncodeAll(payload, nil); len(squeezed) < len(payload) {
			payload = squeezed
			compressed = true
		}
	}

	data, err := codec.Marshal(envelope{Kind: kind, Compressed: compressed, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("gossip: encoding envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte, want frameKind) ([]byte, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("gossip: decoding envelope: %w", err)
	}
	if env.Kind != want {
		return nil, fmt.Errorf("gossip: expected envelope kind %d, got %d", want, env.Kind)
	}

	payload := env.Payload
	if env.Compressed {
		decoded, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("gossip: decompressing envelope payload: %w", err)
		}
		payload = decoded
	}
	return payload, nil
}

func encodeHeads(msg headsMessage) ([]byte, error) {
	return encodeEnvelope(frameHeads, msg)
}

func decodeHeads(data []byte) (headsMessage, error) {
	var msg headsMessage
	payload, err := decodeEnvelope(data, frameHeads)
	if err != nil {
		return msg, err
	}
	if err := codec.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("gossip: decoding heads message: %w", err)
	}
	return msg, nil
}

func encodeBatchMessage(msg batchMessage) ([]byte, error) {
	return encodeEnvelope(frameBatch, msg)
}

func decodeBatchMessage(data []byte) (batchMessage, error) {
	var msg batchMessage
	payload, err := decodeEnvelope(data, frameBatch)
	if err != nil {
		return msg, err
	}
	if err := codec.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("gossip: decoding batch message: %w", err)
	}
	return msg, nil
}
