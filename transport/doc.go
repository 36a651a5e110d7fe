// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the raw byte-stream connections that a
// securechannel.Channel is carried over.
//
// The package defines two interfaces: [Listener] accepts inbound
// connections from peers (Accept, Address, Close), and [Dialer]
// establishes outbound connections to a known peer address
// (DialContext). Neither interface knows anything about identities,
// handshakes, or encryption — that is securechannel's job, layered on
// top of whatever io.ReadWriteCloser a Dialer or Listener hands back.
//
// [TCPDialer] and [TCPListener] are the reference implementation,
// connecting peers directly over TCP. A future transport (NAT-traversing
// WebRTC data channels, a relay server) can implement the same two
// interfaces without touching securechannel or gossip.
package transport
