// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package vectorclock

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Clock is an immutable mapping from peer_id to a non-negative counter.
// The zero value is the empty clock (every peer reads 0). All methods
// return a new Clock; none mutate the receiver.
type Clock struct {
	counts map[string]uint64
}

// New returns the empty clock.
func New() Clock {
	return Clock{}
}

// Get returns the counter for peer, or 0 if peer has no entry.
func (c Clock) Get(peer string) uint64 {
	return c.counts[peer]
}

// Len returns the number of peers with a nonzero entry.
func (c Clock) Len() int {
	return len(c.counts)
}

// Peers returns the clock's peer_ids in ordinal (byte-wise) sorted
// order.
func (c Clock) Peers() []string {
	peers := make([]string, 0, len(c.counts))
	for peer := range c.counts {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// Increment returns a new Clock with peer's counter one greater than in
// c. Pure — c is unchanged.
func (c Clock) Increment(peer string) Clock {
	next := c.clone()
	next.counts[peer] = c.counts[peer] + 1
	return next
}

// Merge returns the pointwise maximum of c and other. Pure — neither
// operand is changed.
func (c Clock) Merge(other Clock) Clock {
	next := c.clone()
	for peer, value := range other.counts {
		if value > next.counts[peer] {
			next.counts[peer] = value
		}
	}
	return next
}

// Equal reports whether c and other have exactly the same set of
// nonzero entries with matching values.
func (c Clock) Equal(other Clock) bool {
	if len(c.counts) != len(other.counts) {
		return false
	}
	for peer, value := range c.counts {
		if other.counts[peer] != value {
			return false
		}
	}
	return true
}

// Canonical renders the clock as a deterministic string, with entries
// sorted by peer_id in ordinal (byte-wise) order and joined as
// "peer:value|peer:value" (spec §4.B). Used as part of the canonical
// byte representation hashed into event ids, so every replica must
// produce byte-identical output for the same clock.
func (c Clock) Canonical() string {
	peers := c.Peers()
	parts := make([]string, 0, len(peers))
	for _, peer := range peers {
		parts = append(parts, peer+":"+strconv.FormatUint(c.counts[peer], 10))
	}
	return strings.Join(parts, "|")
}

func (c Clock) clone() Clock {
	next := Clock{counts: make(map[string]uint64, len(c.counts)+1)}
	for peer, value := range c.counts {
		next.counts[peer] = value
	}
	return next
}

// MarshalJSON renders the clock as a JSON object mapping peer_id to
// counter. encoding/json sorts map keys ordinally when marshaling, so
// this is already deterministic across replicas.
func (c Clock) MarshalJSON() ([]byte, error) {
	if c.counts == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.counts)
}

// UnmarshalJSON parses a JSON object mapping peer_id to counter.
func (c *Clock) UnmarshalJSON(data []byte) error {
	counts := make(map[string]uint64)
	if err := json.Unmarshal(data, &counts); err != nil {
		return err
	}
	c.counts = counts
	return nil
}
