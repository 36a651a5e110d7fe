// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package securechannel implements the mutual-auth, forward-secret
// transport session between two peers (spec §4.G): a handshake over a
// reliable ordered byte stream establishes a shared AES-GCM key pair,
// after which application data is carried in sequence-numbered,
// replay-protected frames with per-frame acknowledgement.
//
// The channel does not open the underlying connection — it wraps an
// io.ReadWriteCloser (typically a net.Conn handed to it by a transport
// layer outside this package's scope, spec §1) and speaks the framed
// protocol over it.
package securechannel
