// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package securechannel

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tabletop-sync/core/syncerr"
)

// FrameCode identifies the wire frame kind (spec §4.G, §6).
type FrameCode byte

const (
	FrameHandshakeHello FrameCode = 1
	FrameHandshakeAck   FrameCode = 2
	FrameData           FrameCode = 3
	FrameAck            FrameCode = 4
	FrameClose          FrameCode = 5
	FrameHeartbeat      FrameCode = 6
)

func (c FrameCode) String() string {
	switch c {
	case FrameHandshakeHello:
		return "HandshakeHello"
	case FrameHandshakeAck:
		return "HandshakeAck"
	case FrameData:
		return "Data"
	case FrameAck:
		return "Ack"
	case FrameClose:
		return "Close"
	case FrameHeartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("FrameCode(%d)", byte(c))
	}
}

func (c FrameCode) valid() bool {
	switch c {
	case FrameHandshakeHello, FrameHandshakeAck, FrameData, FrameAck, FrameClose, FrameHeartbeat:
		return true
	default:
		return false
	}
}

// maxFramePayload bounds a single frame's payload so a malicious or
// corrupted length prefix can never force an unbounded allocation.
const maxFramePayload = 16 << 20

// writeFrame writes code(1) || len(payload)(4 BE) || payload to w.
func writeFrame(w io.Writer, code FrameCode, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(code)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("securechannel: writing frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("securechannel: writing frame payload: %w", err)
	}
	return nil
}

// readFrame reads one code||len||payload frame from r.
func readFrame(r io.Reader) (FrameCode, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	code := FrameCode(header[0])
	if !code.valid() {
		return 0, nil, syncerr.Wrap("securechannel.readFrame", syncerr.UnknownFrame, "code %d", header[0])
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("securechannel: frame payload length %d exceeds maximum %d", length, maxFramePayload)
	}
	if length == 0 {
		return code, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("securechannel: reading frame payload: %w", err)
	}
	return code, payload, nil
}
